package jobtype

import (
	"context"
	"encoding/json"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// importModel imports a model artifact from a source repository into the platform
// (spec.md §4.4, JobTypeImportModel). It produces exactly one MODEL object, keyed "model".
type importModel struct {
	eval JMESPathEvaluator
}

func newImportModel(eval JMESPathEvaluator) *importModel {
	return &importModel{eval: eval}
}

func (l *importModel) RequiredMetadata(jobDef []byte) ([]model.Selector, error) {
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

func (l *importModel) ApplyTransform(jobDef []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]byte, error) {
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

func (l *importModel) ApplyMetadataTransform(_ []byte, bundle []model.Object, _ map[string]json.RawMessage) ([]model.Object, error) {
	// Importing a model does not synthesize additional dependent metadata beyond what was loaded.
	return bundle, nil
}

func (l *importModel) ExpectedOutputs(_ []byte, _ []model.Object) (map[model.ObjectType]int, error) {
	return map[model.ObjectType]int{model.ObjectTypeModel: 1}, nil
}

func (l *importModel) DeclaredOutputs(_ []byte) ([]model.ResultOutput, error) {
	return []model.ResultOutput{{Key: "model", ObjectType: model.ObjectTypeModel}}, nil
}

func (l *importModel) NewResultIDs(
	_ context.Context, _ string, _ []byte, _ map[string]model.Object, mapping map[string]string,
) (map[string]string, error) {
	return requireResultKeys(mapping, "model")
}

func (l *importModel) PriorResultIDs(_ context.Context, _ string, jobDef []byte) (map[string]string, error) {
	return priorResultIDsFromDefinition(jobDef)
}

func (l *importModel) SetResultIDs(jobDef []byte, mapping map[string]string) ([]byte, error) {
	return setResultIDsInDefinition(jobDef, mapping)
}

func (l *importModel) ProcessResult(_ []byte, result model.RuntimeJobResult, resultIDs map[string]string) ([]model.WriteRequest, error) {
	return buildWriteRequests("IMPORT_MODEL", result, resultIDs)
}
