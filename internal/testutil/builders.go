// Package testutil provides testing utilities and helpers for the job orchestration core.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// JobStateBuilder provides a fluent interface for building model.JobState fixtures for testing.
type JobStateBuilder struct {
	state model.JobState
}

// NewJobState creates a new JobStateBuilder with sensible defaults: a RUN_MODEL job in
// QUEUED_IN_TRAC with no resources or results yet assigned.
func NewJobState() *JobStateBuilder {
	now := time.Now().UTC()
	return &JobStateBuilder{
		state: model.JobState{
			JobKey:      "job-key-1",
			JobID:       "job-id-1",
			Tenant:      "tenant-1",
			Owner:       "owner-1",
			OwnerToken:  "token-1",
			JobType:     model.JobTypeRunModel,
			Definition:  json.RawMessage(`{}`),
			TracStatus:  model.TracStatusQueued,
			CacheStatus: model.CacheStatusQueuedInTrac,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// WithJobKey sets the job key.
func (b *JobStateBuilder) WithJobKey(key string) *JobStateBuilder {
	b.state.JobKey = key
	return b
}

// WithTenant sets the tenant.
func (b *JobStateBuilder) WithTenant(tenant string) *JobStateBuilder {
	b.state.Tenant = tenant
	return b
}

// WithOwner sets the owner and owner token.
func (b *JobStateBuilder) WithOwner(owner, token string) *JobStateBuilder {
	b.state.Owner = owner
	b.state.OwnerToken = token
	return b
}

// WithJobType sets the job type.
func (b *JobStateBuilder) WithJobType(jobType model.JobType) *JobStateBuilder {
	b.state.JobType = jobType
	return b
}

// WithDefinition sets the job definition payload.
func (b *JobStateBuilder) WithDefinition(definition json.RawMessage) *JobStateBuilder {
	b.state.Definition = definition
	return b
}

// WithDefinitionString sets the job definition from a string.
func (b *JobStateBuilder) WithDefinitionString(definition string) *JobStateBuilder {
	b.state.Definition = json.RawMessage(definition)
	return b
}

// WithCacheStatus sets the cacheStatus.
func (b *JobStateBuilder) WithCacheStatus(status model.CacheStatus) *JobStateBuilder {
	b.state.CacheStatus = status
	return b
}

// WithTracStatus sets the tracStatus.
func (b *JobStateBuilder) WithTracStatus(status model.TracStatus) *JobStateBuilder {
	b.state.TracStatus = status
	return b
}

// WithBatchState sets the executor handle and its executor status.
func (b *JobStateBuilder) WithBatchState(handle string, status model.ExecutorStatus) *JobStateBuilder {
	b.state.BatchState = &handle
	b.state.BatchStatus = status
	return b
}

// WithResourceMapping sets the selector-to-object-id resource mapping.
func (b *JobStateBuilder) WithResourceMapping(mapping map[string]string) *JobStateBuilder {
	b.state.ResourceMapping = mapping
	return b
}

// WithResultMapping sets the output-name-to-object-id result mapping.
func (b *JobStateBuilder) WithResultMapping(mapping map[string]string) *JobStateBuilder {
	b.state.ResultMapping = mapping
	return b
}

// WithRetries sets the retry counter.
func (b *JobStateBuilder) WithRetries(retries int) *JobStateBuilder {
	b.state.Retries = retries
	return b
}

// WithRemoveAfter sets the scheduled-removal deadline.
func (b *JobStateBuilder) WithRemoveAfter(at time.Time) *JobStateBuilder {
	b.state.RemoveAfter = &at
	return b
}

// WithStatusMessage sets the human-readable status message.
func (b *JobStateBuilder) WithStatusMessage(msg string) *JobStateBuilder {
	b.state.StatusMessage = msg
	return b
}

// WithError sets the error string.
func (b *JobStateBuilder) WithError(msg string) *JobStateBuilder {
	b.state.Error = msg
	return b
}

// Build returns the constructed JobState.
func (b *JobStateBuilder) Build() model.JobState {
	return b.state
}

// Common job state presets

// RunModelJob returns a RUN_MODEL job state fixture.
func RunModelJob() model.JobState {
	return NewJobState().WithJobType(model.JobTypeRunModel).Build()
}

// ImportModelJob returns an IMPORT_MODEL job state fixture.
func ImportModelJob() model.JobState {
	return NewJobState().WithJobType(model.JobTypeImportModel).Build()
}

// RunFlowJob returns a RUN_FLOW job state fixture.
func RunFlowJob() model.JobState {
	return NewJobState().WithJobType(model.JobTypeRunFlow).Build()
}

// RunningJob returns a job state fixture mid-execution in the executor.
func RunningJob() model.JobState {
	return NewJobState().
		WithCacheStatus(model.CacheStatusRunningInExecutor).
		WithTracStatus(model.TracStatusRunning).
		WithBatchState("handle-1", model.ExecutorStatusRunning).
		Build()
}

// ProcessingFailedJob returns a terminal, failed job state fixture.
func ProcessingFailedJob(reason string) model.JobState {
	return NewJobState().
		WithCacheStatus(model.CacheStatusProcessingFailed).
		WithTracStatus(model.TracStatusFailed).
		WithError(reason).
		Build()
}
