package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permipay/permipay/internal/clock"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	executionservice "github.com/permipay/permipay/internal/execution/service"
	"github.com/permipay/permipay/internal/migration"
	"github.com/permipay/permipay/internal/permission/domain"
	statsservice "github.com/permipay/permipay/internal/stats/service"
	"github.com/permipay/permipay/pkg/db"
	"github.com/permipay/permipay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clk clock.Clock) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	execSvc := executionservice.NewService(executionservice.Params{
		DB:    conn,
		Log:   logger,
		GenID: node,
	})
	statSvc := statsservice.NewService(statsservice.Params{
		DB:    conn,
		Log:   logger,
		Clock: clk,
	})
	svc := NewService(Params{
		DB:           conn,
		Log:          logger,
		GenID:        node,
		Clock:        clk,
		ExecutionSvc: execSvc,
		StatsSvc:     statSvc,
	})
	return svc, conn
}

func TestGrantChargeLifecycle(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, clk)
	ctx := context.Background()

	user := "0xAbCd000000000000000000000000000000000001"
	grantedAt := clk.Now()
	expiresAt := grantedAt.Add(24 * time.Hour)

	t.Run("get before grant", func(t *testing.T) {
		_, err := svc.Get(ctx, user)
		assert.ErrorIs(t, err, domain.ErrNoPermission)
	})

	t.Run("grant", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
				UserAddress:   user,
				SpendingLimit: types.MustAmount("1000000"),
				ExpiresAt:     expiresAt,
				GrantedAt:     grantedAt,
			})
			return err
		})
		require.NoError(t, err)

		perm, err := svc.Get(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "0xabcd000000000000000000000000000000000001", perm.UserAddress)
		assert.True(t, perm.IsActive)
		assert.Equal(t, "1000000", perm.SpendingLimit.String())
		assert.Equal(t, "0", perm.SpentAmount.String())
		assert.Equal(t, "1000000", perm.RemainingBudget().String())
	})

	t.Run("charge within budget", func(t *testing.T) {
		var result *domain.ChargeResult
		err := conn.Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = svc.ChargeTx(ctx, tx, domain.ChargeRequest{
				UserAddress: user,
				Cost:        types.MustAmount("300000"),
				At:          clk.Now(),
			})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "700000", result.RemainingBudget.String())
		assert.Equal(t, int64(1), result.Permission.TotalExecutions)
	})

	t.Run("charge equal to remaining budget succeeds", func(t *testing.T) {
		var result *domain.ChargeResult
		err := conn.Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = svc.ChargeTx(ctx, tx, domain.ChargeRequest{
				UserAddress: user,
				Cost:        types.MustAmount("700000"),
				At:          clk.Now(),
			})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "0", result.RemainingBudget.String())
	})

	t.Run("charge over budget rejected without mutation", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.ChargeTx(ctx, tx, domain.ChargeRequest{
				UserAddress: user,
				Cost:        types.MustAmount("1"),
				At:          clk.Now(),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrBudgetExceeded)

		perm, err := svc.Get(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "1000000", perm.SpentAmount.String())
		assert.Equal(t, int64(2), perm.TotalExecutions)
	})

	t.Run("regrant resets spend", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
				UserAddress:   user,
				SpendingLimit: types.MustAmount("500000"),
				ExpiresAt:     clk.Now().Add(48 * time.Hour),
				GrantedAt:     clk.Now(),
			})
			return err
		})
		require.NoError(t, err)

		perm, err := svc.Get(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "0", perm.SpentAmount.String())
		assert.Equal(t, "500000", perm.SpendingLimit.String())
		assert.True(t, perm.IsActive)
	})

	t.Run("charge after expiry rejected", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.ChargeTx(ctx, tx, domain.ChargeRequest{
				UserAddress: user,
				Cost:        types.MustAmount("100"),
				At:          clk.Now().Add(72 * time.Hour),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrPermissionExpired)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		var changed bool
		err := conn.Transaction(func(tx *gorm.DB) error {
			var err error
			changed, err = svc.RevokeTx(ctx, tx, user, clk.Now())
			return err
		})
		require.NoError(t, err)
		assert.True(t, changed)

		err = conn.Transaction(func(tx *gorm.DB) error {
			var err error
			changed, err = svc.RevokeTx(ctx, tx, user, clk.Now())
			return err
		})
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("charge after revoke rejected", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.ChargeTx(ctx, tx, domain.ChargeRequest{
				UserAddress: user,
				Cost:        types.MustAmount("100"),
				At:          clk.Now(),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNoPermission)
	})
}

func TestGrantValidation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, clk)
	ctx := context.Background()

	t.Run("zero limit rejected", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
				UserAddress:   "0x01",
				SpendingLimit: types.Zero(),
				ExpiresAt:     clk.Now().Add(time.Hour),
				GrantedAt:     clk.Now(),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrInvalidLimit)
	})

	t.Run("expiry before grant rejected", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
				UserAddress:   "0x01",
				SpendingLimit: types.MustAmount("100"),
				ExpiresAt:     clk.Now().Add(-time.Hour),
				GrantedAt:     clk.Now(),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrInvalidExpiry)
	})

	t.Run("empty user rejected", func(t *testing.T) {
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
				UserAddress:   "   ",
				SpendingLimit: types.MustAmount("100"),
				ExpiresAt:     clk.Now().Add(time.Hour),
				GrantedAt:     clk.Now(),
			})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrInvalidUser)
	})
}

func TestTryCharge(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, clk)
	ctx := context.Background()

	user := "0x02"
	err := conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.GrantTx(ctx, tx, domain.GrantRequest{
			UserAddress:   user,
			SpendingLimit: types.MustAmount("1000"),
			ExpiresAt:     clk.Now().Add(time.Hour),
			GrantedAt:     clk.Now(),
		})
		return err
	})
	require.NoError(t, err)

	t.Run("charges and journals atomically", func(t *testing.T) {
		resp, err := svc.TryCharge(ctx, domain.TryChargeRequest{
			UserAddress:    user,
			ServiceType:    executiondomain.ServiceWalletAudit,
			Cost:           types.MustAmount("400"),
			IdempotencyKey: "req-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "600", resp.RemainingBudget.String())
		assert.NotEmpty(t, resp.ExecutionID)

		var count int64
		require.NoError(t, conn.Model(&executiondomain.ServiceExecution{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("same idempotency key does not charge twice", func(t *testing.T) {
		first, err := svc.TryCharge(ctx, domain.TryChargeRequest{
			UserAddress:    user,
			ServiceType:    executiondomain.ServiceWalletAudit,
			Cost:           types.MustAmount("400"),
			IdempotencyKey: "req-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "600", first.RemainingBudget.String())

		perm, err := svc.Get(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "400", perm.SpentAmount.String())
		assert.Equal(t, int64(1), perm.TotalExecutions)
	})

	t.Run("rejection rolls back everything", func(t *testing.T) {
		_, err := svc.TryCharge(ctx, domain.TryChargeRequest{
			UserAddress:    user,
			ServiceType:    executiondomain.ServiceContractInspector,
			Cost:           types.MustAmount("700"),
			IdempotencyKey: "req-2",
		})
		assert.ErrorIs(t, err, domain.ErrBudgetExceeded)

		var count int64
		require.NoError(t, conn.Model(&executiondomain.ServiceExecution{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("unknown user rejected", func(t *testing.T) {
		_, err := svc.TryCharge(ctx, domain.TryChargeRequest{
			UserAddress: "0xdead",
			ServiceType: executiondomain.ServiceWalletReputation,
			Cost:        types.MustAmount("1"),
		})
		assert.ErrorIs(t, err, domain.ErrNoPermission)
	})

	t.Run("invalid service type rejected", func(t *testing.T) {
		_, err := svc.TryCharge(ctx, domain.TryChargeRequest{
			UserAddress: user,
			ServiceType: executiondomain.ServiceType(7),
			Cost:        types.MustAmount("1"),
		})
		assert.ErrorIs(t, err, executiondomain.ErrInvalidServiceType)
	})
}
