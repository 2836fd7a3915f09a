package inference

import "testing"

func TestRegistry_FirstRegisteredBecomesCurrent(t *testing.T) {
	r := NewRegistry()
	mock := &Mock{}
	r.Register("mock", mock)

	if r.Current() == nil {
		t.Fatal("expected current client to be set")
	}
	if r.Current().ID() != "mock" {
		t.Fatalf("got %q, want mock", r.Current().ID())
	}
}

func TestRegistry_UnavailableCurrentReturnsNil(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", Noop{})

	if r.Current() != nil {
		t.Fatal("expected nil current for an unavailable client")
	}
}

func TestRegistry_SetCurrentRejectsUnknownID(t *testing.T) {
	r := NewRegistry()
	r.Register("mock", &Mock{})

	if err := r.SetCurrent("ghost"); err == nil {
		t.Fatal("expected error for unregistered id")
	}
}
