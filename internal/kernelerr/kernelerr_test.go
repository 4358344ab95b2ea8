package kernelerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestReasonString_KnownSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrDidNotReduce, "did_not_reduce"},
		{ErrStaleVersion, "stale_version"},
		{ErrInvalidPatch, "invalid_patch"},
		{ErrRegionMissing, "region_missing"},
	}
	for _, c := range cases {
		if got := ReasonString(c.err); got != c.want {
			t.Errorf("ReasonString(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestReasonString_Nil(t *testing.T) {
	if got := ReasonString(nil); got != "" {
		t.Fatalf("expected empty reason for nil error, got %q", got)
	}
}

func TestReasonString_WrappedSentinelStillMatches(t *testing.T) {
	wrapped := fmt.Errorf("applying patch: %w", ErrStaleVersion)
	if got := ReasonString(wrapped); got != "stale_version" {
		t.Fatalf("expected errors.Is-based matching to see through wrapping, got %q", got)
	}
}

func TestReasonString_UnrecognisedErrorFallsBackToMessage(t *testing.T) {
	custom := errors.New("something unexpected")
	if got := ReasonString(custom); got != "something unexpected" {
		t.Fatalf("expected fallback to err.Error(), got %q", got)
	}
}
