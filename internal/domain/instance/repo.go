package instance

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the narrow persistence surface the gateway needs on
// instance records. Instances are created by ingestion elsewhere in the
// platform; the gateway only reads them and writes the two cached fields.
type Repository interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	GetBySOPInstanceUID(ctx context.Context, sopUID string) (*Instance, error)
	ListBySeries(ctx context.Context, seriesUID string) ([]*Instance, error)
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error
	SetFrameCount(ctx context.Context, id uuid.UUID, frameCount int) error
}
