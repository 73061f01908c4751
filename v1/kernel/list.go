package kernel

import (
	"context"
	"sort"
	"strings"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

const (
	// DefaultPageLimit applies when a listing omits the limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps the page size of listings.
	MaxPageLimit = 100
)

// ListQuery selects and paginates active leases.
type ListQuery struct {
	Page          int
	Limit         int
	OwnerContains string
	Class         lease.Class
}

// ListResult is one page of active leases plus pagination metadata.
type ListResult struct {
	Items      []lease.View `json:"locks"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int          `json:"total"`
	TotalPages int          `json:"totalPages"`
	HasNext    bool         `json:"hasNext"`
	HasPrev    bool         `json:"hasPrev"`
}

// List answers active leases matching the query, lazily filtering expired
// records so they never appear in listings or counts.
func (k *Kernel) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if q.Class != "" && !q.Class.Valid() {
		return nil, &ValidationError{Fields: map[string]string{
			"lockType": "must be one of read, write, exclusive",
		}}
	}

	all, err := k.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := k.now()
	matched := make([]*lease.Lease, 0, len(all))
	for _, l := range all {
		if l.Expired(now) {
			continue
		}
		if q.OwnerContains != "" && !strings.Contains(l.Owner, q.OwnerContains) {
			continue
		}
		if q.Class != "" && l.Class != q.Class {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Resource < matched[j].Resource
	})

	total := len(matched)
	totalPages := (total + q.Limit - 1) / q.Limit
	offset := (q.Page - 1) * q.Limit
	end := offset + q.Limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	items := make([]lease.View, 0, end-offset)
	for _, l := range matched[offset:end] {
		items = append(items, l.ViewAt(now))
	}
	return &ListResult{
		Items:      items,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    q.Page < totalPages,
		HasPrev:    q.Page > 1 && total > 0,
	}, nil
}
