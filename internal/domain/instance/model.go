// Package instance holds the persisted record for one physical image
// object within an imaging series, and its repositories.
package instance

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Instance is one frame-bearing image object within a series. ExternalID
// and FrameCount are discovered lazily: ExternalID is set once by the
// resolver and treated as immutable afterwards; FrameCount is cached by
// the frame mapper on first metadata fetch.
type Instance struct {
	ID             uuid.UUID `json:"id"`
	StudyUID       string    `json:"study_uid"`
	SeriesUID      string    `json:"series_uid"`
	SOPInstanceUID string    `json:"sop_instance_uid"`
	InstanceNumber int       `json:"instance_number"`
	ExternalID     *string   `json:"external_id,omitempty"`
	FrameCount     *int      `json:"frame_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Resolved reports whether the preview server's identifier for this
// instance is already known.
func (i *Instance) Resolved() bool {
	return i.ExternalID != nil && *i.ExternalID != ""
}

// SortByNumber orders instances by instance number ascending. Instance
// numbers are ordinal but not necessarily contiguous.
func SortByNumber(instances []*Instance) {
	sort.SliceStable(instances, func(a, b int) bool {
		return instances[a].InstanceNumber < instances[b].InstanceNumber
	})
}
