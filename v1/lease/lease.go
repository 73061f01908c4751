package lease

import (
	"regexp"
	"time"
)

// Class declares the intent of a lease. All classes arbitrate identically:
// any active lease on a resource blocks every other acquisition attempt.
type Class string

const (
	ClassRead      Class = "read"
	ClassWrite     Class = "write"
	ClassExclusive Class = "exclusive"
)

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassRead, ClassWrite, ClassExclusive:
		return true
	}
	return false
}

const (
	// MinDuration and MaxDuration bound the requested lease duration in seconds.
	MinDuration = 1
	MaxDuration = 86400

	// DefaultDuration is applied when an acquisition omits the duration.
	DefaultDuration = 300

	// DefaultClass is applied when an acquisition omits the class.
	DefaultClass = ClassWrite

	// MaxNameLength bounds the resource name.
	MaxNameLength = 256
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// ValidName reports whether name satisfies the resource-name length and
// character constraints.
func ValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// Lease is a time-bounded grant of exclusive access to a named resource.
// Identity (Resource, Owner) is immutable once created; only ExpiresAt may
// move, and only forward.
type Lease struct {
	ID          string            `json:"id"`
	Resource    string            `json:"resourceName"`
	Owner       string            `json:"lockedBy"`
	Class       Class             `json:"lockType"`
	AcquiredAt  time.Time         `json:"acquiredAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Duration    int64             `json:"lockDuration"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Expired reports whether the lease is logically expired at now. Expired
// leases are treated as absent on every read path, whether or not the
// record has been physically reclaimed.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining answers the seconds left before expiry, never negative.
func (l *Lease) Remaining(now time.Time) int64 {
	r := int64(l.ExpiresAt.Sub(now) / time.Second)
	if r < 0 {
		return 0
	}
	return r
}

// View is the client-facing projection of a lease, including derived fields.
type View struct {
	ID            string            `json:"id"`
	Resource      string            `json:"resourceName"`
	Owner         string            `json:"lockedBy"`
	Class         Class             `json:"lockType"`
	AcquiredAt    time.Time         `json:"acquiredAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	Duration      int64             `json:"lockDuration"`
	RemainingSecs int64             `json:"remainingTime"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// ViewAt projects the lease for clients, deriving remaining time from now.
func (l *Lease) ViewAt(now time.Time) View {
	return View{
		ID:            l.ID,
		Resource:      l.Resource,
		Owner:         l.Owner,
		Class:         l.Class,
		AcquiredAt:    l.AcquiredAt,
		ExpiresAt:     l.ExpiresAt,
		Duration:      l.Duration,
		RemainingSecs: l.Remaining(now),
		Annotations:   l.Annotations,
	}
}

// Well-known annotation keys. Annotations are never interpreted by the
// kernel; these exist so producers and dashboards agree on spelling.
const (
	AnnotationPurpose    = "purpose"
	AnnotationSessionID  = "sessionId"
	AnnotationClientAddr = "clientAddr"
	AnnotationUserAgent  = "userAgent"
)
