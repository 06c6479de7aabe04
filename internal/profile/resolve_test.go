package profile

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestMapValidConfigValid(t *testing.T) {
	r := NewReader(nil, zerolog.Nop())
	p := r.MapValidConfig("cpu.performance=1", zerolog.Nop())
	if p == nil || p.CPU == nil || p.CPU.Performance == nil || !*p.CPU.Performance {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestMapValidConfigEmpty(t *testing.T) {
	r := NewReader(nil, zerolog.Nop())
	if p := r.MapValidConfig("", zerolog.Nop()); p != nil {
		t.Fatalf("expected nil for empty config, got %+v", p)
	}
}

func TestMapValidConfigInvalid(t *testing.T) {
	r := NewReader(nil, zerolog.Nop())
	if p := r.MapValidConfig("totally.unknown=1", zerolog.Nop()); p != nil {
		t.Fatalf("expected nil for invalid config, got %+v", p)
	}
}
