package model

import "fmt"

// JobType tags the per-job-type plug-in a JobState dispatches through (see internal/domain/jobtype).
type JobType string

const (
	// JobTypeImportModel imports a model artifact from a source repository into the platform.
	JobTypeImportModel JobType = "IMPORT_MODEL"
	// JobTypeRunModel executes a previously imported model against an input dataset.
	JobTypeRunModel JobType = "RUN_MODEL"
	// JobTypeRunFlow executes a multi-node flow definition.
	JobTypeRunFlow JobType = "RUN_FLOW"
)

// Valid reports whether j is one of the closed set of known job types.
func (j JobType) Valid() bool {
	switch j {
	case JobTypeImportModel, JobTypeRunModel, JobTypeRunFlow:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JobType) UnmarshalText(text []byte) error {
	v := JobType(text)
	if !v.Valid() {
		return fmt.Errorf("invalid job type: %q", string(text))
	}
	*j = v
	return nil
}
