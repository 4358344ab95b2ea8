// Package kernelerr defines the kernel's explicit error variants.
// Rejections are values, not panics: a sensor/proposer failure or a
// rejected patch is reported through these types so a tick can aggregate
// partial results instead of failing outright.
package kernelerr

import (
	"errors"
	"strings"
)

// Rejection reasons returned in a region patch result.
var (
	// ErrDidNotReduce means the post-apply re-measurement did not yield a
	// strictly lower pressure (within the epsilon tolerance).
	ErrDidNotReduce = errors.New("did_not_reduce")

	// ErrStaleVersion means the patch referenced a region version that is
	// no longer current.
	ErrStaleVersion = errors.New("stale_version")

	// ErrInvalidPatch means the artifact rejected the patch (parse/apply
	// error).
	ErrInvalidPatch = errors.New("invalid_patch")

	// ErrRegionMissing means the target region id is not owned by any
	// region actor.
	ErrRegionMissing = errors.New("region_missing")
)

// ConfigError aggregates every violation found by config.Validate in a
// single construction-time error, so the kernel can fail fast while still
// reporting every problem at once instead of one-at-a-time.
type ConfigError struct {
	Violations []string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return "config validation errors:\n  - " + strings.Join(e.Violations, "\n  - ")
}

// NewConfigError builds a ConfigError from a non-empty violation list.
// Callers must not call this with an empty slice; config.Validate only
// constructs one when violations is non-empty.
func NewConfigError(violations []string) *ConfigError {
	return &ConfigError{Violations: violations}
}

// ReasonString returns the stable reason string attached to a rejected
// patch result or tick summary, falling back to the error's own message
// for unrecognised errors.
func ReasonString(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDidNotReduce):
		return "did_not_reduce"
	case errors.Is(err, ErrStaleVersion):
		return "stale_version"
	case errors.Is(err, ErrInvalidPatch):
		return "invalid_patch"
	case errors.Is(err, ErrRegionMissing):
		return "region_missing"
	default:
		return err.Error()
	}
}
