package strategy

import (
	"errors"
	"testing"

	"meridian/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) GenerateSignals(bars []domain.Bar) (domain.SignalSeries, error) {
	return domain.SignalSeries{Strategy: s.name, Signals: make([]domain.Signal, len(bars))}, nil
}

func stubFactory(name string) Factory {
	return func(domain.Params) (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	f, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	s, err := f(nil)
	if err != nil {
		t.Fatalf("factory returned error: %v", err)
	}
	if s.Name() != "test-strategy" {
		t.Errorf("factory built strategy with Name() = %q, want %q", s.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryNew(t *testing.T) {
	r := NewRegistry()
	r.Register("alpha", stubFactory("alpha"))

	s, err := r.New("alpha", domain.Params{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if s.Name() != "alpha" {
		t.Errorf("New built %q, want alpha", s.Name())
	}

	if _, err := r.New("missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("New(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}
