package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
)

// RuleRepository reads business rules from Postgres. The engine only ever
// sees active rows; editing rules is an administrative path outside this
// core.
type RuleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

// ActiveRules returns active global rules plus, when clinicID is set,
// active rules scoped to that clinic. Precedence between the two is the
// engine's concern.
func (r *RuleRepository) ActiveRules(ctx context.Context, clinicID string) ([]rules.ClinicalRule, error) {
	query := `
		SELECT rule_id, name, category, logic, priority, is_active, clinic_id, version
		FROM business_rules
		WHERE is_active = true
		  AND (clinic_id IS NULL OR clinic_id = $1)
		ORDER BY priority DESC, rule_id`

	rows, err := r.db.Query(ctx, query, nullableClinic(clinicID))
	if err != nil {
		return nil, fmt.Errorf("querying active rules: %w", err)
	}
	defer rows.Close()

	var out []rules.ClinicalRule
	for rows.Next() {
		var rule rules.ClinicalRule
		if err := rows.Scan(
			&rule.RuleID,
			&rule.Name,
			&rule.Category,
			&rule.Logic,
			&rule.Priority,
			&rule.IsActive,
			&rule.ClinicID,
			&rule.Version,
		); err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule rows: %w", err)
	}
	return out, nil
}

// RecordEvaluation bumps the evaluation counter and last-evaluated stamp
// for the given rules. Best effort: callers log the error and continue.
func (r *RuleRepository) RecordEvaluation(ctx context.Context, ruleIDs []string) error {
	if len(ruleIDs) == 0 {
		return nil
	}

	query := `
		UPDATE business_rules
		SET evaluation_count = evaluation_count + 1,
		    last_evaluated = NOW()
		WHERE rule_id = ANY($1)`

	_, err := r.db.Exec(ctx, query, ruleIDs)
	if err != nil {
		return fmt.Errorf("recording rule evaluations: %w", err)
	}
	return nil
}

func nullableClinic(clinicID string) *string {
	if clinicID == "" {
		return nil
	}
	return &clinicID
}
