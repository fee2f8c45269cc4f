package transport

import "testing"

func TestNewWSMultiplexerRejectsHostname(t *testing.T) {
	p := newTestProcessor()
	if _, err := NewWSMultiplexer(p, nil, "localhost:8080"); err == nil {
		t.Fatal("expected hostname to be rejected")
	}
}

func TestNewWSMultiplexerAcceptsLiteralIP(t *testing.T) {
	p := newTestProcessor()
	if _, err := NewWSMultiplexer(p, nil, "127.0.0.1:8080"); err != nil {
		t.Fatalf("expected literal IP:port to be accepted, got %v", err)
	}
}

func TestNewWSMultiplexerRejectsMalformedAddr(t *testing.T) {
	p := newTestProcessor()
	if _, err := NewWSMultiplexer(p, nil, "not-an-address"); err == nil {
		t.Fatal("expected malformed address to be rejected")
	}
}
