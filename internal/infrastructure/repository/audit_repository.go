package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinical-governance-backend/internal/domain/audit"
)

// AuditRepository persists the three-level audit chain. All three levels go
// in one transaction: an event must never exist without its log, nor a log
// without its session.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveChain writes session, log and events atomically.
func (r *AuditRepository) SaveChain(ctx context.Context, chain audit.Chain) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO interaction_sessions (id, user_id, patient_id, started_at)
			VALUES ($1, $2, NULLIF($3, ''), $4)`,
			chain.Session.ID,
			chain.Session.UserID,
			chain.Session.PatientID,
			chain.Session.StartedAt,
		); err != nil {
			return fmt.Errorf("inserting interaction session: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO governance_logs
				(id, session_id, raw_output, sanitized_output, validation_status,
				 model_identifier, override_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			chain.Log.ID,
			chain.Log.SessionID,
			chain.Log.RawOutput,
			chain.Log.SanitizedOutput,
			chain.Log.ValidationStatus,
			chain.Log.ModelIdentifier,
			chain.Log.OverrideReason,
			chain.Log.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting governance log: %w", err)
		}

		for _, event := range chain.Events {
			if _, err := tx.Exec(ctx, `
				INSERT INTO governance_events
					(id, log_id, rule_id, rule_name, severity, action,
					 human_override, previous_hash, event_hash, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				event.ID,
				event.LogID,
				event.RuleID,
				event.RuleName,
				event.Severity,
				event.Action,
				event.HumanOverride,
				event.PreviousHash,
				event.EventHash,
				event.CreatedAt,
			); err != nil {
				return fmt.Errorf("inserting governance event %s: %w", event.RuleID, err)
			}
		}

		return nil
	})
}
