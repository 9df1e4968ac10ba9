package errx_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/errx"
)

var (
	testRegistry = errx.NewRegistry("TEST")
	errFlaky     = testRegistry.Register("FLAKY", errx.TypeTransient, "flaky dependency")
	errBroken    = testRegistry.Register("BROKEN", errx.TypeExternal, "broken dependency")
)

func TestRegistry_PrefixesCodes(t *testing.T) {
	if errFlaky.Code != "TEST_FLAKY" {
		t.Fatalf("expected prefixed code, got %s", errFlaky.Code)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := errx.NewRegistry("DUP")
	r.Register("X", errx.TypeInternal, "x")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate code")
		}
	}()
	r.Register("X", errx.TypeInternal, "x again")
}

func TestIsType_WalksWrappedChain(t *testing.T) {
	inner := testRegistry.NewWithCause(errFlaky, errors.New("connection reset"))
	outer := fmt.Errorf("calling model: %w", inner)

	if !errx.IsType(outer, errx.TypeTransient) {
		t.Fatal("expected transient type through fmt wrapping")
	}
	if errx.IsType(outer, errx.TypeExternal) {
		t.Fatal("did not expect external type")
	}

	wrapped := testRegistry.NewWithCause(errBroken, outer)
	if !errx.IsType(wrapped, errx.TypeTransient) {
		t.Fatal("expected inner transient type to stay visible")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("x: %w", testRegistry.New(errBroken).WithDetail("status", 400))
	if !errx.HasCode(err, errBroken) {
		t.Fatal("expected code match")
	}
	if errx.HasCode(err, errFlaky) {
		t.Fatal("unexpected code match")
	}
	if !errors.Is(err, testRegistry.New(errBroken)) {
		t.Fatal("errors.Is should match by code")
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := testRegistry.NewWithCause(errBroken, errors.New("boom"))
	if got := err.Error(); got != "[TEST_BROKEN] broken dependency: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !errx.IsTransient(fmt.Errorf("call: %w", testRegistry.New(errFlaky))) {
		t.Fatal("expected transient")
	}
	if errx.IsTransient(testRegistry.New(errBroken)) || errx.IsTransient(errors.New("plain")) {
		t.Fatal("unexpected transient")
	}
}
