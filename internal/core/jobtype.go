package core

import (
	"context"
	"encoding/json"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// JobTypeLogic is the per-job-type plug-in (C4, spec.md §4.4). The dispatcher selects a variant
// from a closed registry keyed by JobType (internal/domain/jobtype); unknown types fail the job
// with a ValidationGap error before any variant method is called.
type JobTypeLogic interface {
	// RequiredMetadata lists the dependencies that must be loaded before launch.
	RequiredMetadata(jobDef []byte) ([]model.Selector, error)
	// ApplyTransform fills in derived fields (e.g. a package name derived from a repo URL) using
	// the loaded bundle and any dynamic resources gathered so far.
	ApplyTransform(jobDef []byte, bundle []model.Object, dynamicResources map[string]json.RawMessage) ([]byte, error)
	// ApplyMetadataTransform synthesizes dependent metadata into the bundle.
	ApplyMetadataTransform(jobDef []byte, bundle []model.Object, dynamicResources map[string]json.RawMessage) ([]model.Object, error)
	// ExpectedOutputs drives preallocation: how many objects of each type this job will produce.
	ExpectedOutputs(jobDef []byte, bundle []model.Object) (map[model.ObjectType]int, error)
	// DeclaredOutputs lists the logical name and object type of every output this job-type
	// instance expects to produce, in preallocation order, so the processor can assign each
	// preallocated id to the name the variant's ProcessResult will later look up — information
	// ExpectedOutputs' per-type counts alone can't carry.
	DeclaredOutputs(jobDef []byte) ([]model.ResultOutput, error)

	// NewResultIDs wires freshly preallocated ids into the job definition's result mapping.
	NewResultIDs(ctx context.Context, tenant string, jobDef []byte, resources map[string]model.Object, mapping map[string]string) (map[string]string, error)
	// PriorResultIDs recovers a previously assigned result mapping (idempotent launch retries).
	PriorResultIDs(ctx context.Context, tenant string, jobDef []byte) (map[string]string, error)
	// SetResultIDs returns jobDef with mapping's ids written into the definition's output slots.
	SetResultIDs(jobDef []byte, mapping map[string]string) ([]byte, error)

	// ProcessResult transforms the executor's raw outputs into metadata writes, attaching the
	// controlled attributes the platform requires.
	ProcessResult(jobDef []byte, result model.RuntimeJobResult, resultIDs map[string]string) ([]model.WriteRequest, error)
}
