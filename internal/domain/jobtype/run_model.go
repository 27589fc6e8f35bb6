package jobtype

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// runModel executes a previously imported model against an input dataset
// (spec.md §4.4, JobTypeRunModel). It requires a "model" and a "dataset" input and produces one
// DATA object, keyed "predictions".
type runModel struct {
	eval JMESPathEvaluator
}

func newRunModel(eval JMESPathEvaluator) *runModel {
	return &runModel{eval: eval}
}

func (l *runModel) RequiredMetadata(jobDef []byte) ([]model.Selector, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	inputs, err := decodeInputs(m)
	if err != nil {
		return nil, err
	}
	var hasModel, hasDataset bool
	selectors := make([]model.Selector, 0, len(inputs))
	for _, in := range inputs {
		switch in.Key {
		case "model":
			hasModel = true
		case "dataset":
			hasDataset = true
		}
		selectors = append(selectors, in.selector())
	}
	if !hasModel || !hasDataset {
		return nil, fmt.Errorf("run model definition requires both a %q and a %q input", "model", "dataset")
	}
	return selectors, nil
}

func (l *runModel) ApplyTransform(jobDef []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]byte, error) {
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

func (l *runModel) ApplyMetadataTransform(_ []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]model.Object, error) {
	return bundle, nil
}

func (l *runModel) ExpectedOutputs(_ []byte, _ []model.Object) (map[model.ObjectType]int, error) {
	return map[model.ObjectType]int{model.ObjectTypeData: 1}, nil
}

func (l *runModel) DeclaredOutputs(_ []byte) ([]model.ResultOutput, error) {
	return []model.ResultOutput{{Key: "predictions", ObjectType: model.ObjectTypeData}}, nil
}

func (l *runModel) NewResultIDs(
	_ context.Context, _ string, _ []byte, _ map[string]model.Object, mapping map[string]string,
) (map[string]string, error) {
	return requireResultKeys(mapping, "predictions")
}

func (l *runModel) PriorResultIDs(_ context.Context, _ string, jobDef []byte) (map[string]string, error) {
	return priorResultIDsFromDefinition(jobDef)
}

func (l *runModel) SetResultIDs(jobDef []byte, mapping map[string]string) ([]byte, error) {
	return setResultIDsInDefinition(jobDef, mapping)
}

func (l *runModel) ProcessResult(_ []byte, result model.RuntimeJobResult, resultIDs map[string]string) ([]model.WriteRequest, error) {
	return buildWriteRequests("RUN_MODEL", result, resultIDs)
}
