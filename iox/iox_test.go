package iox

import (
	"errors"
	"testing"
)

type spyCloser struct{ closed bool }

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

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

type orderCloser struct {
	name  string
	order *[]string
	err   error
}

func (c orderCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestCloseAll(t *testing.T) {
	var order []string
	errB := errors.New("b failed")
	err := CloseAll(
		orderCloser{name: "a", order: &order},
		nil,
		orderCloser{name: "b", order: &order, err: errB},
		orderCloser{name: "c", order: &order},
	)
	if !errors.Is(err, errB) {
		t.Errorf("CloseAll error = %v, want %v", err, errB)
	}
	if len(order) != 3 || order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Errorf("close order = %v, want [c b a]", order)
	}
	if err := CloseAll(); err != nil {
		t.Errorf("CloseAll() = %v", err)
	}
}
