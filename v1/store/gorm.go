package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

const (
	defaultGormTable   = "reslock_leases"
	defaultGormTimeout = 5 * time.Second
)

// leaseRow is the relational shape of a lease record. The unique index on
// resource is what makes Insert atomic: of N racing inserts exactly one
// satisfies the constraint.
type leaseRow struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Resource    string    `gorm:"column:resource;uniqueIndex;size:256"`
	Owner       string    `gorm:"column:owner;size:256"`
	Class       string    `gorm:"column:class;size:16"`
	AcquiredAt  time.Time `gorm:"column:acquired_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at;index"`
	Duration    int64     `gorm:"column:duration"`
	Annotations []byte    `gorm:"column:annotations"`
}

func toRow(l *lease.Lease) (leaseRow, error) {
	var ann []byte
	if len(l.Annotations) > 0 {
		var err error
		ann, err = json.Marshal(l.Annotations)
		if err != nil {
			return leaseRow{}, fmt.Errorf("store: encode annotations: %w", err)
		}
	}
	return leaseRow{
		ID:          l.ID,
		Resource:    l.Resource,
		Owner:       l.Owner,
		Class:       string(l.Class),
		AcquiredAt:  l.AcquiredAt,
		ExpiresAt:   l.ExpiresAt,
		Duration:    l.Duration,
		Annotations: ann,
	}, nil
}

func fromRow(r leaseRow) (*lease.Lease, error) {
	var ann map[string]string
	if len(r.Annotations) > 0 {
		if err := json.Unmarshal(r.Annotations, &ann); err != nil {
			return nil, fmt.Errorf("store: decode annotations: %w", err)
		}
	}
	return &lease.Lease{
		ID:          r.ID,
		Resource:    r.Resource,
		Owner:       r.Owner,
		Class:       lease.Class(r.Class),
		AcquiredAt:  r.AcquiredAt,
		ExpiresAt:   r.ExpiresAt,
		Duration:    r.Duration,
		Annotations: ann,
	}, nil
}

// Gorm implements Store using a GORM backend. The *gorm.DB must be opened
// with TranslateError enabled so duplicate-key violations surface as
// gorm.ErrDuplicatedKey.
type Gorm struct {
	db      *gorm.DB
	table   string
	timeout time.Duration
}

// GormOption configures a Gorm store.
type GormOption func(*Gorm)

// WithGormTable sets the table name.
func WithGormTable(name string) GormOption {
	return func(s *Gorm) {
		s.table = name
	}
}

// WithGormTimeout sets the per-operation timeout for database calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(s *Gorm) {
		s.timeout = d
	}
}

// NewGorm returns a new Gorm store using the provided connection, migrating
// the lease table if it does not exist.
func NewGorm(db *gorm.DB, opts ...GormOption) (*Gorm, error) {
	s := &Gorm{db: db, table: defaultGormTable, timeout: defaultGormTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if !db.Migrator().HasTable(s.table) {
		if err := db.Table(s.table).AutoMigrate(&leaseRow{}); err != nil {
			return nil, fmt.Errorf("store: migrate %s: %w", s.table, err)
		}
	}
	return s, nil
}

func (s *Gorm) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get implements Store.Get.
func (s *Gorm) Get(ctx context.Context, resource string) (*lease.Lease, bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	var row leaseRow
	err := s.db.WithContext(cctx).Table(s.table).First(&row, "resource = ?", resource).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %q: %w", resource, err)
	}
	l, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Insert implements Store.Insert. An expired row for the same resource is
// cleared in the same transaction before the insert, so a stale record never
// blocks acquisition; the unique index arbitrates between racing writers.
func (s *Gorm) Insert(ctx context.Context, l *lease.Lease, now time.Time) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	row, err := toRow(l)
	if err != nil {
		return false, err
	}
	err = s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table).
			Where("resource = ? AND expires_at <= ?", l.Resource, now).
			Delete(&leaseRow{}).Error; err != nil {
			return err
		}
		return tx.Table(s.table).Create(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: insert %q: %w", l.Resource, err)
	}
	return true, nil
}

// Update implements Store.Update.
func (s *Gorm) Update(ctx context.Context, l *lease.Lease) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	res := s.db.WithContext(cctx).Table(s.table).
		Where("id = ? AND resource = ?", l.ID, l.Resource).
		Update("expires_at", l.ExpiresAt)
	if res.Error != nil {
		return false, fmt.Errorf("store: update %q: %w", l.Resource, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete implements Store.Delete.
func (s *Gorm) Delete(ctx context.Context, resource string) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	res := s.db.WithContext(cctx).Table(s.table).
		Where("resource = ?", resource).
		Delete(&leaseRow{})
	if res.Error != nil {
		return false, fmt.Errorf("store: delete %q: %w", resource, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteByID implements Store.DeleteByID.
func (s *Gorm) DeleteByID(ctx context.Context, resource, id string) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	res := s.db.WithContext(cctx).Table(s.table).
		Where("resource = ? AND id = ?", resource, id).
		Delete(&leaseRow{})
	if res.Error != nil {
		return false, fmt.Errorf("store: delete %q: %w", resource, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// List implements Store.List.
func (s *Gorm) List(ctx context.Context) ([]*lease.Lease, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	var rows []leaseRow
	if err := s.db.WithContext(cctx).Table(s.table).Order("resource").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	out := make([]*lease.Lease, 0, len(rows))
	for _, r := range rows {
		l, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// DeleteExpired implements Store.DeleteExpired.
func (s *Gorm) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	res := s.db.WithContext(cctx).Table(s.table).
		Where("expires_at <= ?", now).
		Delete(&leaseRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: delete expired: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping implements Store.Ping.
func (s *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := sqlDB.PingContext(cctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
