package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := E("zabbix.OpenProblems", KindUpstreamFetch, "fetch open problems", cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if KindOf(err) != KindUpstreamFetch {
		t.Fatalf("KindOf = %v", KindOf(err))
	}

	wrapped := fmt.Errorf("cycle failed: %w", err)
	if KindOf(wrapped) != KindUpstreamFetch {
		t.Fatal("kind must survive further wrapping")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain) = %v", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Fatalf("KindOf(nil) = %v", got)
	}
}
