package processor

import (
	"encoding/json"

	"github.com/codex-core/codex-core/internal/jsonrpc"
)

// dispatchConfig implements spec.md §4.B bucket 1: config CRUD, handled
// in-process and synchronously against the Config Store.
func (p *Processor) dispatchConfig(method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	switch method {
	case "configRead":
		return p.marshalOrErr(p.Config.Current())

	case "configValueWrite":
		var in struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, jsonrpc.InvalidParams(err.Error())
		}
		if err := applyConfigValue(p.Config, in.Key, in.Value); err != nil {
			return nil, jsonrpc.InvalidParams(err.Error())
		}
		return p.marshalOrErr(p.Config.Current())

	case "configBatchWrite":
		var in struct {
			Values map[string]json.RawMessage `json:"values"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, jsonrpc.InvalidParams(err.Error())
		}
		for key, value := range in.Values {
			if err := applyConfigValue(p.Config, key, value); err != nil {
				return nil, jsonrpc.InvalidParams(err.Error())
			}
		}
		return p.marshalOrErr(p.Config.Current())

	case "configRequirementsRead":
		// The minimal spec doesn't define a requirements schema beyond "read
		// it back"; expose the effective config as its own requirements
		// document until a richer schema is needed.
		return p.marshalOrErr(p.Config.Current())

	default:
		return nil, jsonrpc.MethodNotFound(method)
	}
}

func (p *Processor) marshalOrErr(v any) (json.RawMessage, *jsonrpc.Error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
	}
	return b, nil
}
