package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct {
	io.Reader
	closed bool
}

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	body := strings.NewReader(strings.Repeat("x", 1024))
	s := &spyCloser{Reader: body}
	DrainClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if body.Len() != 0 {
		t.Errorf("%d bytes left unread", body.Len())
	}

	big := strings.NewReader(strings.Repeat("x", maxDrain+10))
	DrainClose(&spyCloser{Reader: big})
	if big.Len() != 10 {
		t.Errorf("drain should stop at the bound, %d bytes left", big.Len())
	}
}
