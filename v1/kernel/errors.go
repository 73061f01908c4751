package kernel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

var (
	// ErrNotFound is returned when no active lease matches the resource and
	// owner pair. It deliberately covers both "no such lease" and "held by
	// someone else" so holder identity never leaks to non-holders.
	ErrNotFound = errors.New("reslock: no active lease for this resource and owner")

	// ErrUnauthorized is returned by ForceRelease on a bad admin credential.
	ErrUnauthorized = errors.New("reslock: invalid admin credential")
)

// ConflictError reports that a resource is already actively leased. It is an
// expected, frequent outcome of contention, not a fault: a lost race on the
// atomic insert is folded into this same type.
type ConflictError struct {
	Holder        string
	Class         lease.Class
	RemainingSecs int64
}

func (e *ConflictError) Error() string {
	if e.Holder == "" {
		return "reslock: resource is already locked"
	}
	return fmt.Sprintf("reslock: resource is locked by %s for another %ds", e.Holder, e.RemainingSecs)
}

// ValidationError carries field-level messages for malformed input. Requests
// failing validation never reach the store.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "reslock: invalid request: " + strings.Join(parts, "; ")
}
