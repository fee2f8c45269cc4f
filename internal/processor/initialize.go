package processor

import (
	"encoding/json"
	"fmt"

	"github.com/codex-core/codex-core/internal/jsonrpc"
)

// initializeParams is the client-supplied payload for the initialize
// handshake, per spec.md §4.B/§6.2.
type initializeParams struct {
	ClientInfo   ClientInfo `json:"clientInfo"`
	Capabilities *struct {
		ExperimentalAPIEnabled      bool     `json:"experimental_api_enabled"`
		OptedOutNotificationMethods []string `json:"opted_out_notification_methods"`
	} `json:"capabilities"`
}

type initializeResult struct {
	UserAgent string `json:"user_agent"`
}

// handleInitialize implements spec.md §4.B: the first request on a
// connection must be initialize; repeating it is InvalidRequest.
func (p *Processor) handleInitialize(st *connState, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	p.mu.Lock()
	alreadyInitialized := st.initialized
	p.mu.Unlock()
	if alreadyInitialized {
		return nil, jsonrpc.InvalidRequest("initialize already completed on this connection")
	}

	var in initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, jsonrpc.InvalidParams(err.Error())
		}
	}

	p.mu.Lock()
	st.clientInfo = in.ClientInfo
	if in.Capabilities != nil {
		st.experimentalAPIEnabled = in.Capabilities.ExperimentalAPIEnabled
		for _, m := range in.Capabilities.OptedOutNotificationMethods {
			st.optedOutNotificationMethods[m] = true
		}
	}
	st.initialized = true
	p.mu.Unlock()

	userAgent := fmt.Sprintf("codex-core/1.0 (%s/%s)", in.ClientInfo.Name, in.ClientInfo.Version)
	result, err := json.Marshal(initializeResult{UserAgent: userAgent})
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
	}
	return result, nil
}
