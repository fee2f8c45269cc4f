package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/state"
)

// dispatchExperimental implements spec.md §4.B bucket 3: the
// experimental-gated operations that pass straight through to component F
// (internal/scheduler). Callers already checked experimentalEnabled before
// reaching here.
func (p *Processor) dispatchExperimental(connID ids.ConnectionID, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	switch method {
	case "getBackgroundShellOutput":
		return p.handleGetBackgroundShellOutput(params)
	case "killBackgroundShell":
		return p.handleKillBackgroundShell(params)
	case "spawnSubagent":
		return p.handleSpawnSubagent(params)
	default:
		return nil, jsonrpc.MethodNotFound(method)
	}
}

type getBackgroundShellOutputParams struct {
	ShellID   string `json:"shell_id"`
	Block     bool   `json:"block"`
	TimeoutMs int    `json:"timeout_ms"`
	FilterRE  string `json:"filter_regexp,omitempty"`
	ByteLimit int    `json:"byte_limit"`
}

func (p *Processor) handleGetBackgroundShellOutput(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	if p.Shells == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "no background shell store configured", nil)
	}
	var in getBackgroundShellOutputParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}

	var filter *regexp.Regexp
	if in.FilterRE != "" {
		re, err := regexp.Compile(in.FilterRE)
		if err != nil {
			return nil, jsonrpc.InvalidParams(fmt.Sprintf("invalid filter_regexp: %v", err))
		}
		filter = re
	}
	limit := in.ByteLimit
	if limit <= 0 {
		limit = 64 * 1024
	}
	timeout := time.Duration(in.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	result, err := p.Shells.GetOutput(context.Background(), in.ShellID, in.Block, timeout, filter, limit)
	if err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	return p.marshalOrErr(result)
}

func (p *Processor) handleKillBackgroundShell(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	if p.Shells == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "no background shell store configured", nil)
	}
	var in struct {
		ShellID string `json:"shell_id"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if err := p.Shells.Kill(in.ShellID); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	return p.marshalOrErr(struct{}{})
}

type spawnSubagentParams struct {
	ParentConversationID   string         `json:"parent_conversation_id"`
	Prompt                 string         `json:"prompt"`
	ConfigSnapshot         map[string]any `json:"config_snapshot,omitempty"`
	PermissionModeOverride string         `json:"permission_mode_override,omitempty"`
}

// handleSpawnSubagent routes through the parent conversation's own
// ToolContext.SpawnAgent hook rather than calling scheduler directly, so
// the same parent-snapshot/override rule a tool call would get (spec.md
// §4.F) applies here too.
func (p *Processor) handleSpawnSubagent(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in spawnSubagentParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	conv, ok := p.Conversations.Get(in.ParentConversationID)
	if !ok {
		return nil, jsonrpc.InvalidParams(fmt.Sprintf("unknown conversation %q", in.ParentConversationID))
	}
	if conv.ToolCtx == nil || conv.ToolCtx.SpawnAgent == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "conversation has no spawn-agent hook configured", nil)
	}

	res, err := conv.ToolCtx.SpawnAgent(context.Background(), state.SpawnAgentInput{
		ParentConversationID:   in.ParentConversationID,
		Prompt:                 in.Prompt,
		ConfigSnapshot:         in.ConfigSnapshot,
		PermissionModeOverride: in.PermissionModeOverride,
	})
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
	}
	p.attachAllInitialized(res.ConversationID)
	return p.marshalOrErr(res)
}
