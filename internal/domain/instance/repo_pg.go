package instance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const instanceColumns = `id, study_uid, series_uid, sop_instance_uid, instance_number,
	external_id, frame_count, created_at, updated_at`

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed instance repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, inst *Instance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO image_instance (
			id, study_uid, series_uid, sop_instance_uid, instance_number,
			external_id, frame_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inst.ID, inst.StudyUID, inst.SeriesUID, inst.SOPInstanceUID,
		inst.InstanceNumber, inst.ExternalID, inst.FrameCount,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return scanInstance(r.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM image_instance WHERE id = $1`, id))
}

func (r *repoPG) GetBySOPInstanceUID(ctx context.Context, sopUID string) (*Instance, error) {
	return scanInstance(r.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM image_instance WHERE sop_instance_uid = $1`, sopUID))
}

func (r *repoPG) ListBySeries(ctx context.Context, seriesUID string) ([]*Instance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM image_instance
		 WHERE series_uid = $1 ORDER BY instance_number ASC`, seriesUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// SetExternalID persists a resolved external identifier. The guard on
// external_id keeps an already-resolved instance immutable: the first
// writer wins and later writers are no-ops.
func (r *repoPG) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE image_instance SET external_id = $2, updated_at = NOW()
		WHERE id = $1 AND (external_id IS NULL OR external_id = '')`,
		id, externalID)
	return err
}

func (r *repoPG) SetFrameCount(ctx context.Context, id uuid.UUID, frameCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE image_instance SET frame_count = $2, updated_at = NOW()
		WHERE id = $1`, id, frameCount)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	err := row.Scan(
		&inst.ID, &inst.StudyUID, &inst.SeriesUID, &inst.SOPInstanceUID,
		&inst.InstanceNumber, &inst.ExternalID, &inst.FrameCount,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("instance not found")
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
