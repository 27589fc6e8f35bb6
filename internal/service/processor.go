// Package service implements C5 (the job processor) and C6 (the job manager control loop) on
// top of the internal/core ports, the way the teacher's internal/adapters wires its scheduler
// and rulesrunner on top of internal/core repository interfaces.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/jobtype"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

type ownerCredentialKey struct{}

// withOwnerCredential attaches the oauth2.TokenSource a CredentialRebinder produced for a job's
// owner, so any transport the metadata or executor client builds downstream can pick it up.
func withOwnerCredential(ctx context.Context, ts oauth2.TokenSource) context.Context {
	return context.WithValue(ctx, ownerCredentialKey{}, ts)
}

// OwnerCredential returns the token source rebound for the job owner driving the current
// operation, if any.
func OwnerCredential(ctx context.Context) (oauth2.TokenSource, bool) {
	ts, ok := ctx.Value(ownerCredentialKey{}).(oauth2.TokenSource)
	return ts, ok
}

// JobProcessor implements C5 (spec.md §4.5): one method per named step, each a pure function of
// the JobState snapshot it's given plus whatever collaborators it explicitly calls. No step
// hides I/O behind a trait; launchJob calls Metadata and Executor directly.
type JobProcessor struct {
	Metadata core.MetadataClient
	Executor core.ExecutorClient
	JobTypes *jobtype.Registry
	Auth     core.CredentialRebinder
	Logger   *slog.Logger

	// Now is the clock processor steps stamp UpdatedAt with. Defaults to time.Now; tests
	// substitute a fixed clock.
	Now func() time.Time
}

// NewJobProcessor builds a JobProcessor. auth may be nil, in which case no credential rebinding
// occurs (e.g. when every collaborator authenticates with a fixed service identity).
func NewJobProcessor(metadata core.MetadataClient, executor core.ExecutorClient, jobTypes *jobtype.Registry, auth core.CredentialRebinder, logger *slog.Logger) *JobProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobProcessor{Metadata: metadata, Executor: executor, JobTypes: jobTypes, Auth: auth, Logger: logger, Now: time.Now}
}

// Clock returns the processor's current time, honoring an injected Now for tests.
func (p *JobProcessor) Clock() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// rebindOwner re-binds state.OwnerToken to a usable credential before a step calls out to the
// metadata or executor client on the owner's behalf (the "Credentials in state" design note).
func (p *JobProcessor) rebindOwner(ctx context.Context, state model.JobState) (context.Context, error) {
	if p.Auth == nil || state.OwnerToken == "" {
		return ctx, nil
	}
	ts, err := p.Auth.Rebind(ctx, state.OwnerToken)
	if err != nil {
		return ctx, errors.Wrapf(err, errors.CodeValidationGap, "rebind owner credential for job %s", state.JobKey)
	}
	return withOwnerCredential(ctx, ts), nil
}

// SaveInitialMetadata is C5's saveInitialMetadata: preallocates the job definition's own object
// id, persists it, and stamps jobId/jobKey onto state. Produces CacheStatusQueuedInTrac.
func (p *JobProcessor) SaveInitialMetadata(ctx context.Context, state model.JobState) (model.JobState, error) {
	out := state.Clone()
	if out.Tenant == "" {
		return model.JobState{}, errors.ValidationGap("save initial metadata: tenant is required")
	}
	if !out.JobType.Valid() {
		return model.JobState{}, errors.ValidationGapf("save initial metadata: invalid job type %q", out.JobType)
	}

	headers, err := p.Metadata.PreallocateIDs(ctx, out.Tenant, []model.PreallocateRequest{{ObjectType: model.ObjectTypeJob, Count: 1}})
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeMetadataConflict, "preallocate job id")
	}
	if len(headers) != 1 {
		return model.JobState{}, errors.Internalf("preallocate job id: expected 1 header, got %d", len(headers))
	}

	header, err := p.Metadata.SaveInitialMetadata(ctx, out.Tenant, out.Definition, headers[0].ObjectID)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeMetadataConflict, "save initial job metadata")
	}

	now := p.Clock()
	out.JobID = header.ObjectID
	out.JobKey = fmt.Sprintf("%s/%s", header.ObjectID, header.Version)
	out.TracStatus = model.TracStatusQueued
	out.CacheStatus = model.CacheStatusQueuedInTrac
	out.Retries = 0
	out.CreatedAt = now
	out.UpdatedAt = now
	return out, nil
}

// ScheduleLaunch is C5's scheduleLaunch: a pure bookkeeping transition, the admission decision
// to let this job through having already been made by the manager's admission pass before this
// step is dispatched.
func (p *JobProcessor) ScheduleLaunch(_ context.Context, state model.JobState) (model.JobState, error) {
	out := state.Clone()
	out.CacheStatus = model.CacheStatusLaunchScheduled
	out.TracStatus = model.TracStatusPending
	out.Retries = 0
	out.UpdatedAt = p.Clock()
	return out, nil
}

// LaunchJob is C5's launchJob: loads dependencies via C4.RequiredMetadata/C3.LoadObjects,
// applies C4's transforms, resolves (or recovers) the result-id mapping, and submits to C2.
func (p *JobProcessor) LaunchJob(ctx context.Context, state model.JobState) (model.JobState, error) {
	logic, err := p.JobTypes.Lookup(state.JobType)
	if err != nil {
		return model.JobState{}, err
	}

	ctx, err = p.rebindOwner(ctx, state)
	if err != nil {
		return model.JobState{}, err
	}

	selectors, err := logic.RequiredMetadata(state.Definition)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "required metadata")
	}
	for i := range selectors {
		selectors[i].Tenant = state.Tenant
	}

	bundle, err := p.Metadata.LoadObjects(ctx, state.Tenant, selectors)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeMetadataConflict, "load required metadata")
	}

	dynamicResources := map[string]json.RawMessage{}

	bundle, err = logic.ApplyMetadataTransform(state.Definition, bundle, dynamicResources)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "apply metadata transform")
	}

	newDef, err := logic.ApplyTransform(state.Definition, bundle, dynamicResources)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "apply transform")
	}

	mapping, err := p.resolveResultMapping(ctx, logic, state.Tenant, newDef)
	if err != nil {
		return model.JobState{}, err
	}

	newDef, err = logic.SetResultIDs(newDef, mapping)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "set result ids")
	}

	out := state.Clone()
	out.Definition = newDef
	out.ResultMapping = mapping
	out.Resources = bundleResources(bundle)
	out.ResourceMapping = bundleResourceMapping(bundle)

	batchState, err := p.Executor.Submit(ctx, state.JobKey, out)
	if err != nil {
		return model.JobState{}, err
	}

	out.BatchState = &batchState
	out.CacheStatus = model.CacheStatusSentToExecutor
	out.TracStatus = model.TracStatusSubmitted
	out.Retries = 0
	out.UpdatedAt = p.Clock()
	return out, nil
}

// resolveResultMapping recovers a prior result-id mapping (a retried launch after a partial
// preallocation) or preallocates a fresh one, grouping logic.DeclaredOutputs by ObjectType so a
// single PreallocateIDs call can be zipped back to each declared key in order
// (internal/data/pgmetadata.PreallocateIDs flattens Count ids per request, in request order).
func (p *JobProcessor) resolveResultMapping(ctx context.Context, logic core.JobTypeLogic, tenant string, jobDef []byte) (map[string]string, error) {
	prior, err := logic.PriorResultIDs(ctx, tenant, jobDef)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationGap, "recover prior result ids")
	}
	if len(prior) > 0 {
		return prior, nil
	}

	declared, err := logic.DeclaredOutputs(jobDef)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationGap, "declared outputs")
	}

	type group struct {
		objectType model.ObjectType
		keys       []string
	}
	var groups []*group
	byType := map[model.ObjectType]*group{}
	for _, out := range declared {
		g, ok := byType[out.ObjectType]
		if !ok {
			g = &group{objectType: out.ObjectType}
			byType[out.ObjectType] = g
			groups = append(groups, g)
		}
		g.keys = append(g.keys, out.Key)
	}

	requests := make([]model.PreallocateRequest, 0, len(groups))
	for _, g := range groups {
		requests = append(requests, model.PreallocateRequest{ObjectType: g.objectType, Count: len(g.keys)})
	}

	headers, err := p.Metadata.PreallocateIDs(ctx, tenant, requests)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMetadataConflict, "preallocate result ids")
	}

	seed := make(map[string]string, len(declared))
	pos := 0
	for _, g := range groups {
		for _, key := range g.keys {
			if pos >= len(headers) {
				return nil, errors.Internalf("preallocate result ids: expected %d headers, got %d", len(declared), len(headers))
			}
			seed[key] = headers[pos].ObjectID
			pos++
		}
	}

	return logic.NewResultIDs(ctx, tenant, jobDef, nil, seed)
}

func selectorKey(sel model.Selector) string {
	return string(sel.ObjectType) + ":" + sel.ObjectID
}

func bundleResources(bundle []model.Object) map[string]json.RawMessage {
	if len(bundle) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(bundle))
	for _, obj := range bundle {
		out[selectorKey(obj.Selector)] = json.RawMessage(obj.Payload)
	}
	return out
}

func bundleResourceMapping(bundle []model.Object) map[string]string {
	if len(bundle) == 0 {
		return nil
	}
	out := make(map[string]string, len(bundle))
	for _, obj := range bundle {
		out[selectorKey(obj.Selector)] = obj.Header.ObjectID
	}
	return out
}

// RecordJobStatus is C5's recordJobStatus: folds one executor poll observation into cacheStatus.
// Idempotent — calling it twice with the same info yields the same resulting cacheStatus
// (spec.md §8 invariant 6), since it is a pure function of (state, info) with no side effects.
func (p *JobProcessor) RecordJobStatus(_ context.Context, state model.JobState, info model.ExecutorJobInfo) (model.JobState, error) {
	out := state.Clone()
	out.BatchStatus = info.Status
	if info.Diagnostics != "" {
		out.StatusMessage = info.Diagnostics
	}

	switch info.Status {
	case model.ExecutorStatusPending:
		// still SENT_TO_EXECUTOR; nothing to fold yet.
	case model.ExecutorStatusQueued:
		out.CacheStatus = model.CacheStatusQueuedInExecutor
		out.TracStatus = model.TracStatusSubmitted
	case model.ExecutorStatusRunning:
		out.CacheStatus = model.CacheStatusRunningInExecutor
		out.TracStatus = model.TracStatusRunning
	case model.ExecutorStatusSucceeded:
		out.CacheStatus = model.CacheStatusExecutorSucceeded
		out.TracStatus = model.TracStatusFinishing
	case model.ExecutorStatusComplete:
		out.CacheStatus = model.CacheStatusExecutorComplete
		out.TracStatus = model.TracStatusFinishing
	case model.ExecutorStatusFailed, model.ExecutorStatusLost:
		out.CacheStatus = model.CacheStatusExecutorFailed
		out.TracStatus = model.TracStatusFinishing
	default:
		return model.JobState{}, errors.Internalf("recordJobStatus: unknown executor status %q", info.Status)
	}

	out.Retries = 0
	out.UpdatedAt = p.Clock()
	return out, nil
}

// FetchJobResult is C5's fetchJobResult: pulls artifacts via C2.FetchResult and validates their
// shape against the job type's DeclaredOutputs, producing RESULTS_RECEIVED on a clean match or
// RESULTS_INVALID when the executor's output set doesn't match what was declared.
func (p *JobProcessor) FetchJobResult(ctx context.Context, state model.JobState) (model.JobState, error) {
	if state.BatchState == nil {
		return model.JobState{}, errors.Internalf("fetchJobResult: job %s has no batchState", state.JobKey)
	}

	ctx, err := p.rebindOwner(ctx, state)
	if err != nil {
		return model.JobState{}, err
	}

	result, err := p.Executor.FetchResult(ctx, state.JobKey, *state.BatchState)
	if err != nil {
		return model.JobState{}, err
	}

	logic, err := p.JobTypes.Lookup(state.JobType)
	if err != nil {
		return model.JobState{}, err
	}

	declared, err := logic.DeclaredOutputs(state.Definition)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "declared outputs")
	}

	out := state.Clone()
	out.Retries = 0
	out.UpdatedAt = p.Clock()

	if shapeErr := validateResultShape(declared, result); shapeErr != nil {
		out.CacheStatus = model.CacheStatusResultsInvalid
		out.StatusMessage = shapeErr.Error()
		return out, nil
	}

	out.CacheStatus = model.CacheStatusResultsReceived
	return out, nil
}

// buildFailureWrite constructs the metadata write that records a job's terminal failure against
// its own JOB object (preallocated by SaveInitialMetadata under state.JobID), the same
// update-in-place shape buildWriteRequests uses for a successful result's objects.
func buildFailureWrite(state model.JobState, reason string) model.WriteRequest {
	payload, _ := json.Marshal(map[string]string{
		"status": string(model.TracStatusFailed),
		"error":  reason,
	})
	return model.WriteRequest{
		ObjectType:    model.ObjectTypeJob,
		Payload:       payload,
		Attributes:    map[string]string{"status": string(model.TracStatusFailed), "producedBy": string(state.JobType)},
		PreallocateID: state.JobID,
	}
}

func validateResultShape(declared []model.ResultOutput, result model.RuntimeJobResult) error {
	for _, d := range declared {
		out, ok := result.Outputs[d.Key]
		if !ok {
			return fmt.Errorf("executor result missing declared output %q", d.Key)
		}
		if out.ObjectType != d.ObjectType {
			return fmt.Errorf("executor result output %q has objectType %q, want %q", d.Key, out.ObjectType, d.ObjectType)
		}
	}
	return nil
}

// SaveResultMetadata is C5's saveResultMetadata: on a successful result, runs C4.ProcessResult
// and persists the writes via C3 with tracStatus SUCCEEDED; on an executor failure or an invalid
// result, persists a failure record with tracStatus FAILED. Either way it ends RESULTS_SAVED.
func (p *JobProcessor) SaveResultMetadata(ctx context.Context, state model.JobState) (model.JobState, error) {
	out := state.Clone()
	now := p.Clock()

	switch state.CacheStatus {
	case model.CacheStatusExecutorFailed, model.CacheStatusResultsInvalid:
		reason := state.StatusMessage
		if reason == "" {
			reason = fmt.Sprintf("job failed with batch status %q", state.BatchStatus)
		}

		if _, err := p.Metadata.SaveResultMetadata(ctx, state.Tenant, []model.WriteRequest{buildFailureWrite(state, reason)}); err != nil {
			return model.JobState{}, errors.Wrap(err, errors.CodeMetadataConflict, "save failure result metadata")
		}

		out.Error = reason
		out.TracStatus = model.TracStatusFailed
		out.CacheStatus = model.CacheStatusResultsSaved
		out.Retries = 0
		out.UpdatedAt = now
		return out, nil

	case model.CacheStatusResultsReceived:
		if state.BatchState == nil {
			return model.JobState{}, errors.Internalf("saveResultMetadata: job %s has no batchState", state.JobKey)
		}

		logic, err := p.JobTypes.Lookup(state.JobType)
		if err != nil {
			return model.JobState{}, err
		}

		ctx, err = p.rebindOwner(ctx, state)
		if err != nil {
			return model.JobState{}, err
		}

		result, err := p.Executor.FetchResult(ctx, state.JobKey, *state.BatchState)
		if err != nil {
			return model.JobState{}, err
		}

		writes, err := logic.ProcessResult(state.Definition, result, state.ResultMapping)
		if err != nil {
			return model.JobState{}, errors.Wrap(err, errors.CodeValidationGap, "process result")
		}

		if _, err := p.Metadata.SaveResultMetadata(ctx, state.Tenant, writes); err != nil {
			return model.JobState{}, errors.Wrap(err, errors.CodeMetadataConflict, "save result metadata")
		}

		out.TracStatus = model.TracStatusSucceeded
		out.CacheStatus = model.CacheStatusResultsSaved
		out.Retries = 0
		out.UpdatedAt = now
		return out, nil

	default:
		return model.JobState{}, errors.Internalf("saveResultMetadata: unexpected cacheStatus %q", state.CacheStatus)
	}
}

// CleanUpJob is C5's cleanUpJob: best-effort C2.CleanUp, never fatal to the job.
func (p *JobProcessor) CleanUpJob(ctx context.Context, state model.JobState) (model.JobState, error) {
	out := state.Clone()
	if state.BatchState != nil {
		if err := p.Executor.CleanUp(ctx, state.JobKey, *state.BatchState); err != nil {
			p.Logger.Warn("executor cleanup failed, proceeding anyway", "jobKey", state.JobKey, "error", err)
		}
	}
	out.CacheStatus = model.CacheStatusReadyToRemove
	out.Retries = 0
	out.UpdatedAt = p.Clock()
	return out, nil
}

// ScheduleRemoval is C5's scheduleRemoval: attaches the wall-clock deadline removeFromCache
// waits out before the entry is actually deleted (spec.md §8 invariant 5).
func (p *JobProcessor) ScheduleRemoval(_ context.Context, state model.JobState, delay time.Duration) (model.JobState, error) {
	out := state.Clone()
	now := p.Clock()
	deadline := now.Add(delay)
	out.RemoveAfter = &deadline
	out.CacheStatus = model.CacheStatusScheduledToRemove
	out.Retries = 0
	out.UpdatedAt = now
	return out, nil
}

// HandleProcessingFailed is C5's handleProcessingFailed: the terminal sink for any job that
// cannot proceed, whether from an exhausted retry budget, a fatal collaborator error, or the
// manager's unknown-cacheStatus fallback. Persists a failure record via C3 best-effort and
// always ends RESULTS_SAVED so cleanUpJob/scheduleRemoval still run it out of the cache.
func (p *JobProcessor) HandleProcessingFailed(ctx context.Context, state model.JobState, message string, cause error) (model.JobState, error) {
	out := state.Clone()
	out.TracStatus = model.TracStatusFailed
	out.StatusMessage = message
	if cause != nil {
		out.Error = cause.Error()
	} else {
		out.Error = message
	}

	if _, err := p.Metadata.SaveResultMetadata(ctx, state.Tenant, []model.WriteRequest{buildFailureWrite(state, out.Error)}); err != nil {
		p.Logger.Error("failed to persist failure result metadata", "jobKey", state.JobKey, "error", err)
	}

	out.CacheStatus = model.CacheStatusResultsSaved
	out.Retries = 0
	out.UpdatedAt = p.Clock()
	return out, nil
}
