package state

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/diff"
)

// FileReadState tracks what a conversation has read of one path, per
// spec.md §3 ("FileReadState") and §4.E.6.
type FileReadState struct {
	Content        string // only populated for complete reads
	ReadAt         time.Time
	FileMtime      time.Time
	Offset, Limit  int
	IsCompleteRead bool
	AccessCount    int
}

// FileTracker enforces invariant 4 of spec.md §3: writes fail closed when a
// file changed between the last recorded read and the attempted write,
// unless the edit tool explicitly re-reads first.
type FileTracker struct {
	mu    sync.Mutex
	files map[string]*FileReadState
}

// NewFileTracker returns an empty tracker, one per conversation.
func NewFileTracker() *FileTracker {
	return &FileTracker{files: make(map[string]*FileReadState)}
}

// RecordRead registers a read of path. content is empty for a partial read
// (offset/limit supplied); isComplete reads cache the full content so a
// later write can diff against it without re-reading the file.
func (t *FileTracker) RecordRead(path, content string, offset, limit int, isComplete bool) {
	mtime := statMtime(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.files[path]
	if !ok {
		st = &FileReadState{}
		t.files[path] = st
	}
	st.ReadAt = time.Now()
	st.FileMtime = mtime
	st.Offset, st.Limit = offset, limit
	st.IsCompleteRead = isComplete
	st.AccessCount++
	if isComplete {
		st.Content = content
	}
}

// RecordModified marks path as written, refreshing its tracked mtime so a
// subsequent read-before-write check against the same snapshot succeeds.
func (t *FileTracker) RecordModified(path string) {
	mtime := statMtime(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.files[path]
	if !ok {
		st = &FileReadState{}
		t.files[path] = st
	}
	st.ReadAt = time.Now()
	st.FileMtime = mtime
}

// CheckWritable returns nil if path may be written, or an error (carrying a
// diff against the last-read content, when available) describing why it
// cannot be — per invariant 4: the file was modified since the last
// recorded read, or it was never read at all.
func (t *FileTracker) CheckWritable(path string) error {
	t.mu.Lock()
	st, ok := t.files[path]
	var snapshot FileReadState
	if ok {
		snapshot = *st
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s must be read before it can be edited", path)
	}

	current := statMtime(path)
	if current.IsZero() || snapshot.FileMtime.IsZero() || !current.After(snapshot.FileMtime) {
		return nil
	}

	// The file changed on disk after our last read. Fail closed, and
	// include a diff against the cached content when we have one so the
	// model can see exactly what changed instead of just a flag.
	msg := fmt.Sprintf("%s was modified on disk since it was last read; read it again before editing", path)
	if snapshot.IsCompleteRead {
		if onDisk, err := os.ReadFile(path); err == nil {
			var sb strings.Builder
			a := strings.NewReader(snapshot.Content)
			b := strings.NewReader(string(onDisk))
			if derr := diff.Text("last read", "on disk", a, b, &sb); derr == nil && sb.Len() > 0 {
				msg += ":\n" + sb.String()
			}
		}
	}
	return fmt.Errorf("%s", msg)
}

// Get returns a copy of the tracked state for path, if any.
func (t *FileTracker) Get(path string) (FileReadState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.files[path]
	if !ok {
		return FileReadState{}, false
	}
	return *st, true
}

func statMtime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
