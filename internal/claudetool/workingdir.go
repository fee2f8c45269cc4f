package claudetool

import (
	"sync"

	"github.com/codex-core/codex-core/internal/llm"
)

// MutableWorkingDir holds the conversation's current working directory.
// Tools resolve relative paths against it; it can change mid-conversation
// (e.g. a tool that `cd`s), so it's guarded rather than a plain string.
type MutableWorkingDir struct {
	mu  sync.RWMutex
	dir string
}

func NewMutableWorkingDir(dir string) *MutableWorkingDir {
	return &MutableWorkingDir{dir: dir}
}

func (w *MutableWorkingDir) Get() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dir
}

func (w *MutableWorkingDir) Set(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dir = dir
}

// AvailableModel describes one model the llm_one_shot tool may choose among.
type AvailableModel struct {
	ID          string
	DisplayName string
}

// LLMServiceProvider resolves a model id to a usable llm.Service. The
// Session/Turn Engine implements this over its configured completion
// backends (component D).
type LLMServiceProvider interface {
	GetService(modelID string) (llm.Service, error)
}
