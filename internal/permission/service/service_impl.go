package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permipay/permipay/internal/clock"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	obsmetrics "github.com/permipay/permipay/internal/observability/metrics"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"github.com/permipay/permipay/pkg/db"
	"github.com/permipay/permipay/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Synthetic tx hash prefix for charges originating from the API rather than
// the chain. Keeps the journal's (tx_hash, log_index) key unique across both
// sources and makes API retries idempotent.
const offchainTxPrefix = "offchain-"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	ExecutionSvc executiondomain.Service
	StatsSvc     statsdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	execSvc executiondomain.Service
	statSvc statsdomain.Service
	metrics *obsmetrics.Metrics
}

func NewService(p Params) permissiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("permission.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		execSvc: p.ExecutionSvc,
		statSvc: p.StatsSvc,
		metrics: p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, userAddress string) (*permissiondomain.Permission, error) {
	user, err := normalizeUser(userAddress)
	if err != nil {
		return nil, err
	}

	var perm permissiondomain.Permission
	err = s.db.WithContext(ctx).Where("user_address = ?", user).First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, permissiondomain.ErrNoPermission
		}
		return nil, err
	}
	return &perm, nil
}

func (s *Service) GrantTx(ctx context.Context, tx *gorm.DB, req permissiondomain.GrantRequest) (*permissiondomain.Permission, error) {
	user, err := normalizeUser(req.UserAddress)
	if err != nil {
		return nil, err
	}
	if req.SpendingLimit.IsZero() {
		return nil, permissiondomain.ErrInvalidLimit
	}
	if !req.ExpiresAt.After(req.GrantedAt) {
		return nil, permissiondomain.ErrInvalidExpiry
	}

	// A new grant fully supersedes the prior one: spend resets to zero.
	perm := &permissiondomain.Permission{
		UserAddress:     user,
		SpendingLimit:   req.SpendingLimit,
		SpentAmount:     types.Zero(),
		ExpiresAt:       req.ExpiresAt.UTC(),
		IsActive:        true,
		GrantedAt:       req.GrantedAt.UTC(),
		RevokedAt:       nil,
		TotalExecutions: 0,
		UpdatedAt:       s.clock.Now(),
	}

	err = tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"spending_limit", "spent_amount", "expires_at", "is_active",
			"granted_at", "revoked_at", "total_executions", "updated_at",
		}),
	}).Create(perm).Error
	if err != nil {
		return nil, err
	}
	return perm, nil
}

func (s *Service) ChargeTx(ctx context.Context, tx *gorm.DB, req permissiondomain.ChargeRequest) (*permissiondomain.ChargeResult, error) {
	user, err := normalizeUser(req.UserAddress)
	if err != nil {
		return nil, err
	}
	if req.Cost.IsZero() {
		return nil, permissiondomain.ErrInvalidCost
	}

	var perm permissiondomain.Permission
	err = db.LockForUpdate(tx.WithContext(ctx)).
		Where("user_address = ?", user).
		First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, permissiondomain.ErrNoPermission
		}
		return nil, err
	}

	if !perm.IsActive {
		return nil, permissiondomain.ErrNoPermission
	}
	if !req.At.Before(perm.ExpiresAt) {
		return nil, permissiondomain.ErrPermissionExpired
	}
	newSpent := perm.SpentAmount.Add(req.Cost)
	if newSpent.Cmp(perm.SpendingLimit) > 0 {
		return nil, permissiondomain.ErrBudgetExceeded
	}

	now := s.clock.Now()
	err = tx.WithContext(ctx).Model(&permissiondomain.Permission{}).
		Where("user_address = ?", user).
		Updates(map[string]any{
			"spent_amount":     newSpent,
			"total_executions": gorm.Expr("total_executions + 1"),
			"updated_at":       now,
		}).Error
	if err != nil {
		return nil, err
	}

	perm.SpentAmount = newSpent
	perm.TotalExecutions++
	perm.UpdatedAt = now
	return &permissiondomain.ChargeResult{
		Permission:      &perm,
		RemainingBudget: perm.RemainingBudget(),
	}, nil
}

func (s *Service) RevokeTx(ctx context.Context, tx *gorm.DB, userAddress string, revokedAt time.Time) (bool, error) {
	user, err := normalizeUser(userAddress)
	if err != nil {
		return false, err
	}

	var perm permissiondomain.Permission
	err = db.LockForUpdate(tx.WithContext(ctx)).
		Where("user_address = ?", user).
		First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !perm.IsActive {
		// Redelivered revocation: already inactive, nothing to do.
		return false, nil
	}

	at := revokedAt.UTC()
	err = tx.WithContext(ctx).Model(&permissiondomain.Permission{}).
		Where("user_address = ?", user).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": at,
			"updated_at": s.clock.Now(),
		}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) TryCharge(ctx context.Context, req permissiondomain.TryChargeRequest) (*permissiondomain.TryChargeResponse, error) {
	user, err := normalizeUser(req.UserAddress)
	if err != nil {
		return nil, err
	}
	if !req.ServiceType.Valid() {
		return nil, executiondomain.ErrInvalidServiceType
	}
	if req.Cost.IsZero() {
		return nil, permissiondomain.ErrInvalidCost
	}

	key := strings.ToLower(strings.TrimSpace(req.IdempotencyKey))
	if key == "" {
		key = s.genID.Generate().String()
	}
	txHash := offchainTxPrefix + key
	now := s.clock.Now()

	var resp *permissiondomain.TryChargeResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Retry with the same idempotency key must not charge twice.
		var existing executiondomain.ServiceExecution
		lookupErr := tx.WithContext(ctx).
			Where("tx_hash = ? AND log_index = 0", txHash).
			First(&existing).Error
		if lookupErr == nil {
			resp = &permissiondomain.TryChargeResponse{
				UserAddress:     existing.UserAddress,
				RemainingBudget: existing.RemainingBudgetAfter,
				ExecutionID:     existing.ID.String(),
			}
			return nil
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}

		result, chargeErr := s.ChargeTx(ctx, tx, permissiondomain.ChargeRequest{
			UserAddress: user,
			Cost:        req.Cost,
			At:          now,
		})
		if chargeErr != nil {
			return chargeErr
		}

		exec, _, appendErr := s.execSvc.AppendTx(ctx, tx, executiondomain.AppendRequest{
			UserAddress:          user,
			ServiceType:          req.ServiceType,
			Cost:                 req.Cost,
			RemainingBudgetAfter: result.RemainingBudget,
			ExecutedAt:           now,
			TxHash:               txHash,
			LogIndex:             0,
		})
		if appendErr != nil {
			return appendErr
		}

		if foldErr := s.statSvc.FoldExecutionTx(ctx, tx, req.ServiceType, req.Cost, now); foldErr != nil {
			return foldErr
		}

		resp = &permissiondomain.TryChargeResponse{
			UserAddress:     user,
			RemainingBudget: result.RemainingBudget,
			ExecutionID:     exec.ID.String(),
		}
		return nil
	})
	if err != nil {
		if isChargeRejection(err) {
			s.metrics.RecordChargeRejected(ctx, err.Error())
			s.log.Info("charge rejected",
				zap.String("user", user),
				zap.String("reason", err.Error()),
			)
		}
		return nil, err
	}

	s.metrics.RecordExecutionApplied(ctx, req.ServiceType.Name())
	return resp, nil
}

func isChargeRejection(err error) bool {
	return errors.Is(err, permissiondomain.ErrNoPermission) ||
		errors.Is(err, permissiondomain.ErrPermissionExpired) ||
		errors.Is(err, permissiondomain.ErrBudgetExceeded)
}

func normalizeUser(raw string) (string, error) {
	user := strings.ToLower(strings.TrimSpace(raw))
	if user == "" {
		return "", permissiondomain.ErrInvalidUser
	}
	return user, nil
}
