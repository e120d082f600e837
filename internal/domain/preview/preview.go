// Package preview implements the image-preview migration gateway: it
// resolves which external instance and local frame a flat global frame
// index refers to, routes each request between the external preview
// server and the legacy internal renderer, and falls back safely when the
// external path fails.
package preview

import (
	"context"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/platform/pacs"
)

// PreviewFetcher fetches a rendered preview for one frame of an external
// instance. Satisfied by *pacs.Client and by test doubles.
type PreviewFetcher interface {
	FetchPreview(ctx context.Context, externalID string, frameIndex int, opts pacs.PreviewOptions) ([]byte, error)
}

// MetadataFetcher fetches instance metadata from the preview server.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, externalID string) (*pacs.InstanceMetadata, error)
}

// InstanceFinder looks up external identifiers by SOP instance UID.
type InstanceFinder interface {
	FindInstance(ctx context.Context, sopUID string) ([]string, error)
}

// Request is the transient per-call value the router decides on.
type Request struct {
	StudyUID         string
	SeriesUID        string
	GlobalFrameIndex int
	// UseExternal, when set, overrides the percentage rollout for this
	// request. nil means "no override".
	UseExternal *bool
	// Quality is an optional 1-100 hint for the preview encoder.
	Quality int
}

// FrameRef is the result of mapping a global frame index: the external
// instance that owns the frame and the frame's index within it.
type FrameRef struct {
	ExternalID string
	LocalIndex int
	Instance   *instance.Instance
}

// LegacyRenderFunc renders a frame through the legacy internal renderer.
// The router invokes it when the external path is not selected or fails.
type LegacyRenderFunc func(ctx context.Context) ([]byte, error)
