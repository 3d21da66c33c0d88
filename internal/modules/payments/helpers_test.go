package payments

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"leaguehub.com/app/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	mock     *MockProcessor
	notifier *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	mock := NewMockProcessor("whsec_test")
	cfg := DefaultConfig()
	cfg.ProcessorTimeout = 500 * time.Millisecond

	svc := NewService(db, mock, cfg)
	svc.SetLogger(quietLogger())
	n := &countingNotifier{}
	svc.SetNotifier(n)

	return &fixture{db: db, svc: svc, mock: mock, notifier: n}
}

func (f *fixture) request(t *testing.T, principal, resource string, amount int64, currency string) RequestPaymentResult {
	t.Helper()
	res, err := f.svc.RequestPayment(context.Background(), principal, RequestPaymentInput{
		ResourceID: resource,
		Amount:     amount,
		Currency:   currency,
	})
	if err != nil {
		t.Fatalf("RequestPayment() error = %v", err)
	}
	return res
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
