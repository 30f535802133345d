package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/clinicore/clinical-governance-backend/internal/domain/errors"
	"github.com/clinicore/clinical-governance-backend/internal/domain/governance"
)

// ContentRepository persists bundle governance metadata and signoffs.
type ContentRepository struct {
	db *pgxpool.Pool
}

// NewContentRepository creates a new content repository.
func NewContentRepository(db *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{db: db}
}

// SaveMetadata upserts the governance record for a bundle version.
func (r *ContentRepository) SaveMetadata(ctx context.Context, meta governance.BundleMetadata) error {
	query := `
		INSERT INTO content_bundle_metadata
			(bundle_version, content_checksum, protocol_version,
			 lifecycle_state, signoff_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bundle_version) DO UPDATE SET
			content_checksum = EXCLUDED.content_checksum,
			protocol_version = EXCLUDED.protocol_version,
			lifecycle_state  = EXCLUDED.lifecycle_state,
			signoff_status   = EXCLUDED.signoff_status,
			updated_at       = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		meta.ContentBundleVersion,
		meta.ContentChecksum,
		meta.ProtocolVersion,
		meta.LifecycleState,
		meta.SignoffStatus,
		meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving bundle metadata: %w", err)
	}
	return nil
}

// GetMetadata loads the governance record for a bundle version.
func (r *ContentRepository) GetMetadata(ctx context.Context, bundleVersion string) (governance.BundleMetadata, error) {
	var meta governance.BundleMetadata
	query := `
		SELECT bundle_version, content_checksum, protocol_version,
		       lifecycle_state, signoff_status, updated_at
		FROM content_bundle_metadata
		WHERE bundle_version = $1`

	err := r.db.QueryRow(ctx, query, bundleVersion).Scan(
		&meta.ContentBundleVersion,
		&meta.ContentChecksum,
		&meta.ProtocolVersion,
		&meta.LifecycleState,
		&meta.SignoffStatus,
		&meta.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return meta, domainerrors.NewNotFoundError("bundle metadata")
	}
	if err != nil {
		return meta, fmt.Errorf("loading bundle metadata: %w", err)
	}
	return meta, nil
}

// TransitionLifecycle moves a bundle between lifecycle states, enforcing
// the transition table at the store boundary as well: the row only updates
// when its current state matches the expected source state.
func (r *ContentRepository) TransitionLifecycle(ctx context.Context, bundleVersion string, from, to governance.LifecycleState) error {
	if !governance.IsTransitionAllowed(from, to) {
		return domainerrors.NewGovernanceError("TRANSITION_NOT_ALLOWED",
			fmt.Sprintf("lifecycle transition %s -> %s is not allowed", from, to))
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE content_bundle_metadata
		SET lifecycle_state = $1, updated_at = NOW()
		WHERE bundle_version = $2 AND lifecycle_state = $3`,
		to, bundleVersion, from)
	if err != nil {
		return fmt.Errorf("transitioning bundle lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.NewConflictError(
			fmt.Sprintf("bundle %s is not in state %s", bundleVersion, from))
	}
	return nil
}

// SaveSignoff records the active signoff for a bundle version. The unique
// constraint on bundle_version keeps it to one active signoff per version.
func (r *ContentRepository) SaveSignoff(ctx context.Context, bundleVersion string, record governance.SignoffRecord) error {
	query := `
		INSERT INTO signoff_records
			(bundle_version, signed_off_by, role, signed_off_at,
			 expires_at, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bundle_version) DO UPDATE SET
			signed_off_by = EXCLUDED.signed_off_by,
			role          = EXCLUDED.role,
			signed_off_at = EXCLUDED.signed_off_at,
			expires_at    = EXCLUDED.expires_at,
			status        = EXCLUDED.status,
			notes         = EXCLUDED.notes`

	_, err := r.db.Exec(ctx, query,
		bundleVersion,
		record.SignedOffBy,
		record.Role,
		record.SignedOffAt,
		record.ExpiresAt,
		record.Status,
		record.Notes,
	)
	if err != nil {
		return fmt.Errorf("saving signoff record: %w", err)
	}
	return nil
}

// GetSignoff loads the active signoff for a bundle version.
func (r *ContentRepository) GetSignoff(ctx context.Context, bundleVersion string) (governance.SignoffRecord, error) {
	var record governance.SignoffRecord
	query := `
		SELECT signed_off_by, role, signed_off_at, expires_at, status, notes
		FROM signoff_records
		WHERE bundle_version = $1`

	err := r.db.QueryRow(ctx, query, bundleVersion).Scan(
		&record.SignedOffBy,
		&record.Role,
		&record.SignedOffAt,
		&record.ExpiresAt,
		&record.Status,
		&record.Notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return record, domainerrors.ErrSignoffNotFound
	}
	if err != nil {
		return record, fmt.Errorf("loading signoff record: %w", err)
	}
	return record, nil
}
