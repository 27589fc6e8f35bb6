package jobtype

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracorch/jobcore/internal/domain/model"
)

const runFlowDef = `{
	"inputs":[{"key":"seed","objectType":"DATA","objectId":"seedobj","version":"v1"}],
	"outputs":[
		{"key":"flowResult","objectType":"DATA"},
		{"key":"flowReport","objectType":"MODEL"}
	]
}`

func TestRunFlow_ExpectedOutputs_AggregatesByType(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)
	outputs, err := l.ExpectedOutputs([]byte(runFlowDef), nil)
	require.NoError(t, err)
	assert.Equal(t, map[model.ObjectType]int{model.ObjectTypeData: 1, model.ObjectTypeModel: 1}, outputs)
}

func TestRunFlow_ExpectedOutputs_NoOutputsFails(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)
	_, err := l.ExpectedOutputs([]byte(`{"inputs":[]}`), nil)
	assert.Error(t, err)
}

func TestRunFlow_DeclaredOutputs(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)
	declared, err := l.DeclaredOutputs([]byte(runFlowDef))
	require.NoError(t, err)
	assert.Equal(t, []model.ResultOutput{
		{Key: "flowResult", ObjectType: model.ObjectTypeData},
		{Key: "flowReport", ObjectType: model.ObjectTypeModel},
	}, declared)
}

func TestRunFlow_NewResultIDs_RequiresAllDeclaredKeys(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)

	t.Run("all present", func(t *testing.T) {
		mapping, err := l.NewResultIDs(context.Background(), "tenant-a", []byte(runFlowDef), nil, map[string]string{
			"flowResult": "obj-1",
			"flowReport": "obj-2",
		})
		require.NoError(t, err)
		assert.Equal(t, "obj-1", mapping["flowResult"])
		assert.Equal(t, "obj-2", mapping["flowReport"])
	})

	t.Run("missing one fails", func(t *testing.T) {
		_, err := l.NewResultIDs(context.Background(), "tenant-a", []byte(runFlowDef), nil, map[string]string{
			"flowResult": "obj-1",
		})
		assert.Error(t, err)
	})
}

func TestRunFlow_ProcessResult(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)
	result := model.RuntimeJobResult{
		Outputs: map[string]model.RuntimeOutput{
			"flowResult": {ObjectType: model.ObjectTypeData, Payload: []byte(`{}`)},
			"flowReport": {ObjectType: model.ObjectTypeModel, Payload: []byte(`{}`)},
		},
	}

	writes, err := l.ProcessResult(nil, result, map[string]string{"flowResult": "obj-1", "flowReport": "obj-2"})
	require.NoError(t, err)
	assert.Len(t, writes, 2)
	for _, w := range writes {
		assert.Equal(t, "RUN_FLOW", w.Attributes["producedBy"])
	}
}

func TestRunFlow_RequiredMetadata(t *testing.T) {
	l := newRunFlow(DefaultEvaluator)
	selectors, err := l.RequiredMetadata([]byte(runFlowDef))
	require.NoError(t, err)
	require.Len(t, selectors, 1)
	assert.Equal(t, "seedobj", selectors[0].ObjectID)
}
