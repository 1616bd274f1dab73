package permission

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestRegisterAssignsStableBits(t *testing.T) {
	r := NewRegistry()
	a, err := r.Register("dogs:read")
	if err != nil || a != 0 {
		t.Fatalf("first bit: %d %v", a, err)
	}
	b, _ := r.Register("dogs:write")
	if b != 1 {
		t.Fatalf("second bit: %d", b)
	}
	again, err := r.Register(" DOGS:READ ")
	if err != nil || again != 0 {
		t.Fatalf("re-register must return existing bit, got %d %v", again, err)
	}
	if r.Count() != 2 {
		t.Fatalf("count: %d", r.Count())
	}
	if name, ok := r.Name(1); !ok || name != "dogs:write" {
		t.Fatalf("name(1): %q %v", name, ok)
	}
}

func TestFreezeAndLimit(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	if _, err := r.Register("x"); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}

	r = NewRegistry()
	for i := 0; i < 63; i++ {
		if _, err := r.Register(fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := r.Register("overflow"); !errors.Is(err, ErrLimit) {
		t.Fatalf("expected ErrLimit, got %v", err)
	}
}

func TestMaskAndMissing(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"dogs:read", "dogs:write", "breeds:read"} {
		_, _ = r.Register(n)
	}

	have, unknown := r.Mask([]string{"dogs:read", "vaccines:read"})
	if !reflect.DeepEqual(unknown, []string{"vaccines:read"}) {
		t.Fatalf("unknown: %v", unknown)
	}
	required, _ := r.Mask([]string{"dogs:read", "dogs:write", "breeds:read"})

	if have.Covers(required) {
		t.Fatal("subset must not cover superset")
	}
	if got := r.Missing(have, required); !reflect.DeepEqual(got, []string{"dogs:write", "breeds:read"}) {
		t.Fatalf("missing: %v", got)
	}

	all, _ := r.Mask([]string{Wildcard})
	if !all.Covers(required) || r.Missing(all, required) != nil {
		t.Fatal("wildcard must cover everything")
	}
	if !all.Has(5) {
		t.Fatal("wildcard must satisfy Has")
	}
}

func TestMaskBounds(t *testing.T) {
	var m Mask64
	if m.With(-1) != 0 || m.With(64) != 0 || m.Has(64) {
		t.Fatal("out of range bits must be ignored")
	}
	if m.With(3).With(3).Count() != 1 {
		t.Fatal("setting a bit twice must count once")
	}
}
