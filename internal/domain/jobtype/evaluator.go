// Package jobtype implements the per-job-type plug-in registry (C4, spec.md §4.4): a closed set
// of core.JobTypeLogic variants selected by model.JobType, not an open class hierarchy.
package jobtype

import (
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// JMESPathEvaluator abstracts JMESPath operations for testability, mirroring the teacher's
// sink-transform evaluator.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// DefaultEvaluator is the production JMESPathEvaluator backed by go-jmespath.
var DefaultEvaluator JMESPathEvaluator = jmespathLibEvaluator{}
