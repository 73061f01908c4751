package kernel_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/mirkobrombin/go-reslock/v1/kernel"
	"github.com/mirkobrombin/go-reslock/v1/lease"
)

func TestListFiltersAndPaginates(t *testing.T) {
	k, _ := newKernel(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := k.Acquire(ctx, kernel.AcquireRequest{
			Resource: "batch/res-" + strconv.Itoa(i),
			Owner:    "worker-A",
			Class:    lease.ClassWrite,
		}); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if _, err := k.Acquire(ctx, kernel.AcquireRequest{
		Resource: "reader",
		Owner:    "worker-B",
		Class:    lease.ClassRead,
	}); err != nil {
		t.Fatalf("acquire reader: %v", err)
	}

	res, err := k.List(ctx, kernel.ListQuery{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 6 || res.TotalPages != 3 {
		t.Fatalf("total %d pages %d, want 6 and 3", res.Total, res.TotalPages)
	}
	if len(res.Items) != 2 || !res.HasNext || res.HasPrev {
		t.Fatalf("first page wrong: %+v", res)
	}

	res, err = k.List(ctx, kernel.ListQuery{Page: 3, Limit: 2})
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if res.HasNext || !res.HasPrev || len(res.Items) != 2 {
		t.Fatalf("last page wrong: %+v", res)
	}

	res, err = k.List(ctx, kernel.ListQuery{OwnerContains: "worker-B"})
	if err != nil {
		t.Fatalf("owner filter: %v", err)
	}
	if res.Total != 1 || res.Items[0].Resource != "reader" {
		t.Fatalf("owner filter wrong: %+v", res)
	}

	res, err = k.List(ctx, kernel.ListQuery{Class: lease.ClassRead})
	if err != nil {
		t.Fatalf("class filter: %v", err)
	}
	if res.Total != 1 || res.Items[0].Class != lease.ClassRead {
		t.Fatalf("class filter wrong: %+v", res)
	}
}

func TestListHidesExpiredLeases(t *testing.T) {
	k, clock := newKernel(t)
	ctx := context.Background()

	acquire(t, k, "short", "worker-A", 1)
	acquire(t, k, "long", "worker-A", 300)
	clock.Advance(2 * time.Second)

	res, err := k.List(ctx, kernel.ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 || res.Items[0].Resource != "long" {
		t.Fatalf("expired lease leaked into listing: %+v", res)
	}
}

func TestListEmptyPage(t *testing.T) {
	k, _ := newKernel(t)
	res, err := k.List(context.Background(), kernel.ListQuery{Page: 4, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 0 || res.TotalPages != 0 || len(res.Items) != 0 {
		t.Fatalf("empty listing wrong: %+v", res)
	}
	if res.HasNext || res.HasPrev {
		t.Fatalf("empty listing claims neighbours: %+v", res)
	}
}
