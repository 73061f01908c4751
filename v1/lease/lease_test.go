package lease

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestValidName(t *testing.T) {
	valid := []string{"db-migration-01", "jobs/nightly.batch", "a", "ns:cache_flush", strings.Repeat("x", MaxNameLength)}
	for _, name := range valid {
		if !ValidName(name) {
			t.Errorf("ValidName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "has space", "tab\tchar", "naïve", strings.Repeat("x", MaxNameLength+1)}
	for _, name := range invalid {
		if ValidName(name) {
			t.Errorf("ValidName(%q) = true, want false", name)
		}
	}
}

func TestExpiredAndRemaining(t *testing.T) {
	now := time.Now().UTC()
	l := Lease{AcquiredAt: now, ExpiresAt: now.Add(90 * time.Second)}

	if l.Expired(now) {
		t.Fatal("fresh lease reads expired")
	}
	if got := l.Remaining(now); got != 90 {
		t.Fatalf("remaining %d, want 90", got)
	}
	if !l.Expired(l.ExpiresAt) {
		t.Fatal("lease at its expiry instant must read expired")
	}
	if got := l.Remaining(now.Add(5 * time.Minute)); got != 0 {
		t.Fatalf("remaining after expiry %d, want 0", got)
	}
}

func TestViewAt(t *testing.T) {
	now := time.Now().UTC()
	l := Lease{
		ID:          "id-1",
		Resource:    "res",
		Owner:       "worker-A",
		Class:       ClassExclusive,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(300 * time.Second),
		Duration:    300,
		Annotations: map[string]string{AnnotationPurpose: "migration"},
	}
	got := l.ViewAt(now.Add(60 * time.Second))
	want := View{
		ID:            "id-1",
		Resource:      "res",
		Owner:         "worker-A",
		Class:         ClassExclusive,
		AcquiredAt:    now,
		ExpiresAt:     l.ExpiresAt,
		Duration:      300,
		RemainingSecs: 240,
		Annotations:   map[string]string{AnnotationPurpose: "migration"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("view mismatch (-want +got):\n%s", diff)
	}
}

func TestClassValid(t *testing.T) {
	for _, c := range []Class{ClassRead, ClassWrite, ClassExclusive} {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	for _, c := range []Class{"", "shared", "READ"} {
		if c.Valid() {
			t.Errorf("%q should be invalid", c)
		}
	}
}
