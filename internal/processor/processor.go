// Package processor implements component B, the Message Processor: a
// single logical task owning a map ConnectionId → {writer, session} that
// drains transport events, enforces the initialize handshake, and
// dispatches requests to the Config CRUD surface or the Session/Turn
// Engine, per spec.md §4.B.
//
// Grounded on the teacher's llm/codex.Service: a single struct fanning a
// subprocess's JSON-RPC messages out to per-request waiters and
// per-method notification handlers, generalized here from one subprocess
// peer to many transport connections.
package processor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codex-core/codex-core/internal/config"
	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/scheduler"
	"github.com/codex-core/codex-core/internal/session"
)

// Conn is what component A's per-connection writer implements so the
// processor can answer requests and push notifications without knowing
// whether the peer is stdio or WebSocket.
type Conn interface {
	ID() ids.ConnectionID
	WriteMessage(msg jsonrpc.Message) error
}

// ClientInfo is the client-supplied identity recorded at initialize, used
// for user-agent composition per spec.md §4.B.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// connState is everything the processor tracks per connection.
type connState struct {
	conn Conn

	initialized                 bool
	experimentalAPIEnabled      bool
	optedOutNotificationMethods map[string]bool
	clientInfo                  ClientInfo

	// threads this connection currently receives events for.
	threads map[string]bool
}

// Processor is the single logical owner of every connection's handshake
// state and of the config store and session registry it dispatches to.
type Processor struct {
	Config        *config.Store
	Conversations *session.Registry
	Dispatcher    *notifications.Dispatcher
	Logger        *slog.Logger

	// Approvals resolves respondToApproval decisions back to whichever
	// ApprovalBroker.RequestApproval call is blocked on them. Nil is valid
	// for a processor that never gated a tool call through AskUser.
	Approvals *ApprovalBroker

	// Shells is the background shell store the experimental
	// getBackgroundShellOutput/killBackgroundShell operations read and
	// mutate, per spec.md §4.F. Nil disables those two operations even
	// when experimental_api_enabled is set.
	Shells *scheduler.Store

	mu          sync.Mutex
	connections map[ids.ConnectionID]*connState

	// byThread indexes which connections are attached to a conversation's
	// event stream, per spec.md §4.B's "Thread attach" paragraph.
	byThread map[string]map[ids.ConnectionID]bool
}

// New builds a Processor. The caller registers the returned broadcastChannel
// (see channel.go) on dispatcher separately, since registration order can
// matter to callers constructing a wider channel set.
func New(cfg *config.Store, conversations *session.Registry, dispatcher *notifications.Dispatcher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Config:        cfg,
		Conversations: conversations,
		Dispatcher:    dispatcher,
		Logger:        logger,
		connections:   make(map[ids.ConnectionID]*connState),
		byThread:      make(map[string]map[ids.ConnectionID]bool),
	}
}

// Connect registers a newly-accepted connection. The connection has not
// yet sent initialize.
func (p *Processor) Connect(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[conn.ID()] = &connState{conn: conn, optedOutNotificationMethods: map[string]bool{}, threads: map[string]bool{}}
}

// Disconnect removes a connection and every thread subscription it held.
func (p *Processor) Disconnect(id ids.ConnectionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.connections[id]; ok {
		for thread := range st.threads {
			delete(p.byThread[thread], id)
		}
	}
	delete(p.connections, id)
}

// HandleRequest processes one inbound JSON-RPC request and returns the
// response to write back. It is safe to call concurrently from multiple
// connections' reader goroutines; the processor's own state is guarded by
// its mutex, matching the "single logical task" contract via lock instead
// of a literal single goroutine (so a slow handler on one connection
// doesn't stall every other connection's request).
func (p *Processor) HandleRequest(connID ids.ConnectionID, req jsonrpc.Request) jsonrpc.Response {
	resp := jsonrpc.Response{JSONRPC: "2.0", ID: req.ID}

	st, ok := p.connState(connID)
	if !ok {
		resp.Error = jsonrpc.NewError(jsonrpc.CodeInternalError, "unknown connection", nil)
		return resp
	}

	if req.Method == "initialize" {
		result, err := p.handleInitialize(st, req.Params)
		if err != nil {
			resp.Error = err
			return resp
		}
		resp.Result = result
		return resp
	}

	p.mu.Lock()
	initialized := st.initialized
	p.mu.Unlock()
	if !initialized {
		resp.Error = jsonrpc.InvalidRequest("the first request on a connection must be initialize")
		return resp
	}

	result, rpcErr := p.dispatch(connID, st, req.Method, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func (p *Processor) connState(connID ids.ConnectionID) (*connState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.connections[connID]
	return st, ok
}

// dispatch implements spec.md §4.B's three buckets.
func (p *Processor) dispatch(connID ids.ConnectionID, st *connState, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	switch method {
	case "initialize":
		return nil, jsonrpc.InvalidRequest("initialize already completed on this connection")

	case "configRead", "configValueWrite", "configBatchWrite", "configRequirementsRead":
		return p.dispatchConfig(method, params)

	case "newConversation", "sendUserMessage", "interruptConversation", "respondToApproval", "attachToThread":
		return p.dispatchConversation(connID, st, method, params)

	case "getBackgroundShellOutput", "killBackgroundShell", "spawnSubagent":
		if !experimentalEnabled(p.Config, st) {
			return nil, jsonrpc.NewError(jsonrpc.CodeNotSupported, fmt.Sprintf("%s requires experimental_api_enabled", method), nil)
		}
		return p.dispatchExperimental(connID, method, params)

	default:
		return nil, jsonrpc.MethodNotFound(method)
	}
}

func experimentalEnabled(cfg *config.Store, st *connState) bool {
	if st.experimentalAPIEnabled {
		return true
	}
	if cfg != nil {
		return cfg.Current().ExperimentalAPIEnabled
	}
	return false
}
