package completion

import (
	"testing"

	"github.com/codex-core/codex-core/internal/llm"
)

func TestMessagesExtend(t *testing.T) {
	base := []llm.Message{llm.UserStringMessage("hello")}
	longer := append(append([]llm.Message{}, base...), llm.Message{
		Role:    llm.MessageRoleAssistant,
		Content: llm.TextContent("hi"),
	})

	tests := []struct {
		name  string
		prior []llm.Message
		full  []llm.Message
		want  bool
	}{
		{"empty prior extends to anything", nil, base, true},
		{"strictly longer with same prefix", base, longer, true},
		{"same length is not an extension", base, base, false},
		{"shorter is not an extension", longer, base, false},
		{"diverging prefix is not an extension", base, []llm.Message{llm.UserStringMessage("bye"), longer[1]}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messagesExtend(tt.prior, tt.full); got != tt.want {
				t.Errorf("messagesExtend(%v, %v) = %v, want %v", tt.prior, tt.full, got, tt.want)
			}
		})
	}
}

func TestFallbackBackendTripsOnce(t *testing.T) {
	fb := &FallbackBackend{}
	if !fb.tripFallback() {
		t.Fatal("expected first tripFallback to flip the flag")
	}
	if fb.tripFallback() {
		t.Fatal("expected second tripFallback to be a no-op")
	}
	if !fb.disabled.Load() {
		t.Fatal("expected disabled flag to be set")
	}
}
