package preview

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/platform/pacs"
)

// Mapper converts a caller-supplied global frame index into a specific
// (external instance, local frame) pair. The mapping is deterministic and
// order-stable for a given instance list; its only side effects are the
// resolver and frame-count caches it legitimately populates.
type Mapper struct {
	meta     MetadataFetcher
	resolver *Resolver
	repo     instance.Repository
	logger   zerolog.Logger
}

// NewMapper creates a frame mapper.
func NewMapper(meta MetadataFetcher, resolver *Resolver, repo instance.Repository, logger zerolog.Logger) *Mapper {
	return &Mapper{meta: meta, resolver: resolver, repo: repo, logger: logger}
}

// MapGlobalIndex walks instances in the caller-supplied order (expected
// instanceNumber ascending) and locates the instance owning globalIndex.
// An instance that cannot be resolved, or whose frame count cannot be
// fetched, contributes zero frames and is skipped so a single broken
// instance does not corrupt frame addressing for its siblings.
//
// Returns ErrOutOfRange when globalIndex is beyond the total frame count
// of the resolvable instances, and ErrNotResolved when no instance in the
// list could be resolved at all.
func (m *Mapper) MapGlobalIndex(ctx context.Context, instances []*instance.Instance, globalIndex int) (*FrameRef, error) {
	if globalIndex < 0 {
		return nil, fmt.Errorf("global frame index %d is negative: %w", globalIndex, pacs.ErrInvalidArgument)
	}

	running := 0
	resolvable := 0
	for _, inst := range instances {
		externalID, err := m.resolver.Resolve(ctx, inst)
		if err != nil {
			return nil, err
		}
		if externalID == "" {
			m.logger.Debug().Str("sop_uid", inst.SOPInstanceUID).
				Msg("skipping unresolved instance in frame mapping")
			continue
		}

		frameCount, err := m.frameCount(ctx, inst, externalID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			m.logger.Warn().Err(err).Str("external_id", externalID).
				Msg("skipping instance with unavailable frame count")
			continue
		}
		resolvable++

		if globalIndex < running+frameCount {
			return &FrameRef{
				ExternalID: externalID,
				LocalIndex: globalIndex - running,
				Instance:   inst,
			}, nil
		}
		running += frameCount
	}

	if resolvable == 0 {
		return nil, fmt.Errorf("no instance in series could be resolved: %w", pacs.ErrNotResolved)
	}
	return nil, fmt.Errorf("global frame index %d exceeds the %d frames of %d resolvable instances: %w",
		globalIndex, running, resolvable, pacs.ErrOutOfRange)
}

// frameCount returns the cached frame count or fetches it once through
// instance metadata, persisting the result best-effort.
func (m *Mapper) frameCount(ctx context.Context, inst *instance.Instance, externalID string) (int, error) {
	if inst.FrameCount != nil && *inst.FrameCount > 0 {
		return *inst.FrameCount, nil
	}

	meta, err := m.meta.FetchMetadata(ctx, externalID)
	if err != nil {
		return 0, err
	}

	fc := meta.FrameCount
	inst.FrameCount = &fc
	if err := m.repo.SetFrameCount(ctx, inst.ID, fc); err != nil {
		m.logger.Warn().Err(err).Str("external_id", externalID).
			Msg("failed to persist frame count")
	}
	return fc, nil
}
