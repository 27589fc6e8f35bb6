package jobtype

import (
	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

// Registry is the closed set of JobTypeLogic variants keyed by model.JobType. It is the
// dispatcher's only entry point into this package.
type Registry struct {
	logic map[model.JobType]core.JobTypeLogic
}

// NewRegistry builds the registry. A nil eval defaults to DefaultEvaluator.
func NewRegistry(eval JMESPathEvaluator) *Registry {
	if eval == nil {
		eval = DefaultEvaluator
	}
	return &Registry{
		logic: map[model.JobType]core.JobTypeLogic{
			model.JobTypeImportModel: newImportModel(eval),
			model.JobTypeRunModel:    newRunModel(eval),
			model.JobTypeRunFlow:     newRunFlow(eval),
		},
	}
}

// Lookup returns the JobTypeLogic for jobType, or a ValidationGap error if jobType is not a
// member of the closed set (spec.md §4.4: unknown types fail the job with ValidationGap).
func (r *Registry) Lookup(jobType model.JobType) (core.JobTypeLogic, error) {
	logic, ok := r.logic[jobType]
	if !ok {
		return nil, errors.ValidationGapf("unknown job type %q", string(jobType))
	}
	return logic, nil
}
