package domain

import (
	"context"
	"errors"
	"time"

	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	"github.com/permipay/permipay/pkg/types"
	"gorm.io/gorm"
)

type RangeRequest struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// Service folds permission lifecycle and execution events into the global
// and daily counter sets. Fold methods run inside the caller's transaction
// so a duplicate event that no-ops at the journal level never reaches them.
type Service interface {
	FoldGrantTx(ctx context.Context, tx *gorm.DB, userAddress string, at time.Time) error
	FoldExecutionTx(ctx context.Context, tx *gorm.DB, serviceType executiondomain.ServiceType, cost types.Amount, at time.Time) error
	FoldRevokeTx(ctx context.Context, tx *gorm.DB, at time.Time) error

	// Global returns the singleton counter set, zero-valued when empty.
	Global(ctx context.Context) (*GlobalStats, error)

	// Range returns daily buckets for [from, to] ordered by date ascending.
	Range(ctx context.Context, req RangeRequest) ([]DailyStats, error)

	// DistinctUsers counts addresses in the seen-users index, the exact
	// alternative to the running UniqueUsers counter.
	DistinctUsers(ctx context.Context) (int64, error)

	// Rebuild recomputes every counter by replaying the canonical event log
	// from empty state. The result must match the incrementally-maintained
	// values exactly.
	Rebuild(ctx context.Context) error
}

var (
	ErrInvalidDate  = errors.New("invalid_date")
	ErrInvalidRange = errors.New("invalid_range")
)
