package domain

import (
	"context"
	"errors"
	"time"

	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	"github.com/permipay/permipay/pkg/types"
	"gorm.io/gorm"
)

type GrantRequest struct {
	UserAddress   string
	SpendingLimit types.Amount
	ExpiresAt     time.Time
	GrantedAt     time.Time
}

type ChargeRequest struct {
	UserAddress string
	Cost        types.Amount
	At          time.Time
}

// ChargeResult is the post-charge snapshot returned on success.
type ChargeResult struct {
	Permission      *Permission
	RemainingBudget types.Amount
}

type TryChargeRequest struct {
	UserAddress    string                      `json:"user"`
	ServiceType    executiondomain.ServiceType `json:"service_type"`
	Cost           types.Amount                `json:"cost"`
	IdempotencyKey string                      `json:"idempotency_key"`
}

type TryChargeResponse struct {
	UserAddress     string       `json:"user"`
	RemainingBudget types.Amount `json:"remaining_budget"`
	ExecutionID     string       `json:"execution_id"`
}

// Service is the permission ledger. It is the only component allowed to
// mutate budget state; Charge is the single check-and-update enforcement
// point, so callers never decide affordability from a stale read.
type Service interface {
	// Get returns the current permission snapshot for a user.
	Get(ctx context.Context, userAddress string) (*Permission, error)

	// GrantTx creates or supersedes the user's permission inside the caller's
	// transaction. Spent amount resets to zero on every grant.
	GrantTx(ctx context.Context, tx *gorm.DB, req GrantRequest) (*Permission, error)

	// ChargeTx atomically verifies active status, expiry and budget, then
	// applies the charge. A rejection leaves the row untouched.
	ChargeTx(ctx context.Context, tx *gorm.DB, req ChargeRequest) (*ChargeResult, error)

	// RevokeTx deactivates the permission. Idempotent: revoking an already
	// inactive permission reports changed=false and is not an error.
	RevokeTx(ctx context.Context, tx *gorm.DB, userAddress string, revokedAt time.Time) (changed bool, err error)

	// TryCharge is the single entry point for the delegated-signer
	// collaborator: charge, journal append and stats fold commit as one
	// transaction, or none of them do.
	TryCharge(ctx context.Context, req TryChargeRequest) (*TryChargeResponse, error)
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidLimit      = errors.New("invalid_spending_limit")
	ErrInvalidExpiry     = errors.New("invalid_expiry")
	ErrInvalidCost       = errors.New("invalid_cost")
	ErrNoPermission      = errors.New("no_permission")
	ErrPermissionExpired = errors.New("permission_expired")
	ErrBudgetExceeded    = errors.New("budget_exceeded")
)
