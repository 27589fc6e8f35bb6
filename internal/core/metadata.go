package core

import (
	"context"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// MetadataClient is the abstract handle to the object/metadata store (C3, spec.md §4.3).
type MetadataClient interface {
	// LoadObjects batch-fetches dependencies for tenant.
	LoadObjects(ctx context.Context, tenant string, selectors []model.Selector) ([]model.Object, error)
	// PreallocateIDs reserves object ids ahead of a save, one id set per request entry.
	PreallocateIDs(ctx context.Context, tenant string, requests []model.PreallocateRequest) ([]model.ObjectHeader, error)
	// SaveInitialMetadata persists the tenant-supplied job definition under its preallocated id
	// and returns the resulting header (jobId comes from here).
	SaveInitialMetadata(ctx context.Context, tenant string, jobDef []byte, preallocatedID string) (model.ObjectHeader, error)
	// SaveResultMetadata applies a batch of writes transactionally.
	SaveResultMetadata(ctx context.Context, tenant string, writes []model.WriteRequest) ([]model.ObjectHeader, error)
}
