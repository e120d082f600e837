package instance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe, in-memory Repository. It backs unit tests
// and the offline validation CLI path where no database is configured.
type InMemoryRepo struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
	order     []uuid.UUID
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{instances: make(map[uuid.UUID]*Instance)}
}

func (r *InMemoryRepo) Create(_ context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	cp := *inst
	r.instances[inst.ID] = &cp
	r.order = append(r.order, inst.ID)
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", id)
	}
	cp := *inst
	return &cp, nil
}

func (r *InMemoryRepo) GetBySOPInstanceUID(_ context.Context, sopUID string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if inst := r.instances[id]; inst != nil && inst.SOPInstanceUID == sopUID {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("instance with sop uid %s not found", sopUID)
}

func (r *InMemoryRepo) ListBySeries(_ context.Context, seriesUID string) ([]*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Instance
	for _, id := range r.order {
		if inst := r.instances[id]; inst != nil && inst.SeriesUID == seriesUID {
			cp := *inst
			result = append(result, &cp)
		}
	}
	SortByNumber(result)
	return result, nil
}

func (r *InMemoryRepo) SetExternalID(_ context.Context, id uuid.UUID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("instance %s not found", id)
	}
	if inst.Resolved() {
		return nil
	}
	inst.ExternalID = &externalID
	inst.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryRepo) SetFrameCount(_ context.Context, id uuid.UUID, frameCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("instance %s not found", id)
	}
	inst.FrameCount = &frameCount
	inst.UpdatedAt = time.Now()
	return nil
}
