package shellsidecar

import (
	"context"
	"errors"
	"testing"
)

func TestExecStdinNotSupported(t *testing.T) {
	c := &Client{}
	if err := c.ExecStdin(context.Background(), "exec-1", []byte("hi")); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("ExecStdin = %v, want ErrNotSupported", err)
	}
}

func TestExecResizeNotSupported(t *testing.T) {
	c := &Client{}
	if err := c.ExecResize(context.Background(), "exec-1", 80, 24); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("ExecResize = %v, want ErrNotSupported", err)
	}
}

func TestErrNotSupportedCode(t *testing.T) {
	if ErrNotSupported.Code != -32004 {
		t.Fatalf("ErrNotSupported.Code = %d, want -32004", ErrNotSupported.Code)
	}
}

func TestErrUnknownExecIDCode(t *testing.T) {
	if ErrUnknownExecID.Code != -32002 {
		t.Fatalf("ErrUnknownExecID.Code = %d, want -32002", ErrUnknownExecID.Code)
	}
}
