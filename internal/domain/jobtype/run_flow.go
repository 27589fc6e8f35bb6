package jobtype

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// outputSpec names one output a flow definition declares, unlike import/run-model's fixed single
// output: a flow can fan out into several named, independently typed results.
type outputSpec struct {
	Key        string           `json:"key"`
	ObjectType model.ObjectType `json:"objectType"`
}

// runFlow executes a multi-node flow definition (spec.md §4.4, JobTypeRunFlow). Its inputs and
// outputs are both declared lists, since a flow's shape is not fixed the way a single model run
// or import is.
type runFlow struct {
	eval JMESPathEvaluator
}

func newRunFlow(eval JMESPathEvaluator) *runFlow {
	return &runFlow{eval: eval}
}

func (l *runFlow) RequiredMetadata(jobDef []byte) ([]model.Selector, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	inputs, err := decodeInputs(m)
	if err != nil {
		return nil, err
	}
	selectors := make([]model.Selector, 0, len(inputs))
	for _, in := range inputs {
		selectors = append(selectors, in.selector())
	}
	return selectors, nil
}

func (l *runFlow) ApplyTransform(jobDef []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]byte, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	derive, err := decodeDerive(m)
	if err != nil {
		return nil, err
	}
	if err := applyDerivations(l.eval, m, derive, bundle); err != nil {
		return nil, err
	}
	return encodeDefinition(m)
}

func (l *runFlow) ApplyMetadataTransform(_ []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]model.Object, error) {
	return bundle, nil
}

func (l *runFlow) decodeOutputs(jobDef []byte) ([]outputSpec, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	raw, ok := m["outputs"]
	if !ok {
		return nil, fmt.Errorf("flow definition has no outputs declared")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode outputs: %w", err)
	}
	var outputs []outputSpec
	if err := json.Unmarshal(b, &outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("flow definition declares zero outputs")
	}
	return outputs, nil
}

func (l *runFlow) ExpectedOutputs(jobDef []byte, _ []model.Object) (map[model.ObjectType]int, error) {
	outputs, err := l.decodeOutputs(jobDef)
	if err != nil {
		return nil, err
	}
	counts := make(map[model.ObjectType]int, len(outputs))
	for _, out := range outputs {
		counts[out.ObjectType]++
	}
	return counts, nil
}

func (l *runFlow) DeclaredOutputs(jobDef []byte) ([]model.ResultOutput, error) {
	outputs, err := l.decodeOutputs(jobDef)
	if err != nil {
		return nil, err
	}
	declared := make([]model.ResultOutput, 0, len(outputs))
	for _, out := range outputs {
		declared = append(declared, model.ResultOutput{Key: out.Key, ObjectType: out.ObjectType})
	}
	return declared, nil
}

func (l *runFlow) NewResultIDs(
	_ context.Context, _ string, jobDef []byte, _ map[string]model.Object, mapping map[string]string,
) (map[string]string, error) {
	outputs, err := l.decodeOutputs(jobDef)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(outputs))
	for _, out := range outputs {
		keys = append(keys, out.Key)
	}
	return requireResultKeys(mapping, keys...)
}

func (l *runFlow) PriorResultIDs(_ context.Context, _ string, jobDef []byte) (map[string]string, error) {
	return priorResultIDsFromDefinition(jobDef)
}

func (l *runFlow) SetResultIDs(jobDef []byte, mapping map[string]string) ([]byte, error) {
	return setResultIDsInDefinition(jobDef, mapping)
}

func (l *runFlow) ProcessResult(_ []byte, result model.RuntimeJobResult, resultIDs map[string]string) ([]model.WriteRequest, error) {
	return buildWriteRequests("RUN_FLOW", result, resultIDs)
}
