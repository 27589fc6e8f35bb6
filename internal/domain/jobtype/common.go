package jobtype

import (
	"encoding/json"
	"fmt"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// inputRef names one dependency a job definition requires. Tenant is intentionally absent: C4's
// RequiredMetadata contract takes no tenant argument, so selectors come back tenant-less and the
// caller (internal/service launchJob) stamps state.Tenant onto each before calling
// core.MetadataClient.LoadObjects.
type inputRef struct {
	Key        string           `json:"key"`
	ObjectType model.ObjectType `json:"objectType"`
	ObjectID   string           `json:"objectId"`
	Version    string           `json:"version"`
}

func (r inputRef) selector() model.Selector {
	return model.Selector{ObjectType: r.ObjectType, ObjectID: r.ObjectID, Version: r.Version}
}

// decodeDefinition parses a job definition into a generic map so variant code can read its own
// fields and preserve everything else untouched through re-encoding.
func decodeDefinition(jobDef []byte) (map[string]any, error) {
	if len(jobDef) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(jobDef, &m); err != nil {
		return nil, fmt.Errorf("decode job definition: %w", err)
	}
	return m, nil
}

func encodeDefinition(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

// decodeInputs reads the definition's "inputs" array, the set of metadata objects this job
// declares as required (spec.md §4.4 requiredMetadata).
func decodeInputs(m map[string]any) ([]inputRef, error) {
	raw, ok := m["inputs"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode inputs: %w", err)
	}
	var inputs []inputRef
	if err := json.Unmarshal(b, &inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return inputs, nil
}

// decodeDerive reads the definition's "derive" object: derived field name -> JMESPath expression
// evaluated against the loaded bundle.
func decodeDerive(m map[string]any) (map[string]string, error) {
	raw, ok := m["derive"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode derive: %w", err)
	}
	var derive map[string]string
	if err := json.Unmarshal(b, &derive); err != nil {
		return nil, fmt.Errorf("decode derive: %w", err)
	}
	return derive, nil
}

// bundleToJMESData indexes the loaded bundle by object id so derive expressions can reference
// "<objectId>.payload.field" style paths.
func bundleToJMESData(bundle []model.Object) map[string]any {
	data := make(map[string]any, len(bundle))
	for _, obj := range bundle {
		entry := map[string]any{
			"objectId":   obj.Header.ObjectID,
			"objectType": string(obj.Header.ObjectType),
			"version":    obj.Header.Version,
		}
		if len(obj.Payload) > 0 && json.Valid(obj.Payload) {
			var payload any
			if err := json.Unmarshal(obj.Payload, &payload); err == nil {
				entry["payload"] = payload
			}
		}
		data[obj.Selector.ObjectID] = entry
	}
	return data
}

// applyDerivations evaluates each derive expression against the bundle and writes the results
// under m["derived"], mutating m in place.
func applyDerivations(eval JMESPathEvaluator, m map[string]any, derive map[string]string, bundle []model.Object) error {
	if len(derive) == 0 {
		return nil
	}
	data := bundleToJMESData(bundle)
	derived := make(map[string]any, len(derive))
	for field, expr := range derive {
		val, err := eval.Evaluate(expr, data)
		if err != nil {
			return fmt.Errorf("evaluate derived field %q: %w", field, err)
		}
		derived[field] = val
	}
	m["derived"] = derived
	return nil
}

// priorResultIDsFromDefinition recovers a result mapping embedded by a previous SetResultIDs
// call, giving launchJob retries idempotent result-id assignment (spec.md §4.4 priorResultIds).
func priorResultIDsFromDefinition(jobDef []byte) (map[string]string, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	raw, ok := m["resultMapping"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode resultMapping: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(b, &mapping); err != nil {
		return nil, fmt.Errorf("decode resultMapping: %w", err)
	}
	return mapping, nil
}

// setResultIDsInDefinition embeds mapping into the definition under "resultMapping" so a later
// launch retry can recover it via priorResultIDsFromDefinition.
func setResultIDsInDefinition(jobDef []byte, mapping map[string]string) ([]byte, error) {
	m, err := decodeDefinition(jobDef)
	if err != nil {
		return nil, err
	}
	m["resultMapping"] = mapping
	return encodeDefinition(m)
}

// requireResultKeys checks that mapping has a preallocated id for every expected output key.
func requireResultKeys(mapping map[string]string, keys ...string) (map[string]string, error) {
	for _, k := range keys {
		if _, ok := mapping[k]; !ok {
			return nil, fmt.Errorf("missing preallocated result id for output %q", k)
		}
	}
	return mapping, nil
}

// buildWriteRequests turns resultIDs (output name -> preallocated object id) plus the executor's
// raw outputs into the metadata writes processResult returns (spec.md §4.4).
func buildWriteRequests(producedBy string, result model.RuntimeJobResult, resultIDs map[string]string) ([]model.WriteRequest, error) {
	writes := make([]model.WriteRequest, 0, len(resultIDs))
	for name, id := range resultIDs {
		out, ok := result.Outputs[name]
		if !ok {
			return nil, fmt.Errorf("executor result missing expected output %q", name)
		}
		attrs := make(map[string]string, len(out.Metadata)+1)
		for k, v := range out.Metadata {
			attrs[k] = v
		}
		attrs["producedBy"] = producedBy
		writes = append(writes, model.WriteRequest{
			ObjectType:    out.ObjectType,
			Payload:       out.Payload,
			Attributes:    attrs,
			PreallocateID: id,
		})
	}
	return writes, nil
}
