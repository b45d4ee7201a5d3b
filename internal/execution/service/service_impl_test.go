package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permipay/permipay/internal/execution/domain"
	"github.com/permipay/permipay/internal/migration"
	"github.com/permipay/permipay/pkg/db"
	"github.com/permipay/permipay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
	})
	return svc, conn
}

func TestAppendTxIdempotency(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	executedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	req := domain.AppendRequest{
		UserAddress:          "0xAA",
		ServiceType:          domain.ServiceContractInspector,
		Cost:                 types.MustAmount("250"),
		RemainingBudgetAfter: types.MustAmount("750"),
		BlockNumber:          100,
		ExecutedAt:           executedAt,
		TxHash:               "0xDEADBEEF",
		LogIndex:             3,
	}

	first, inserted, err := svc.AppendTx(ctx, conn, req)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "0xaa", first.UserAddress)
	assert.Equal(t, "0xdeadbeef", first.TxHash)

	second, inserted, err := svc.AppendTx(ctx, conn, req)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&domain.ServiceExecution{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendTxValidation(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.AppendTx(ctx, conn, domain.AppendRequest{
		TxHash:      "0x1",
		ServiceType: domain.ServiceWalletAudit,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, _, err = svc.AppendTx(ctx, conn, domain.AppendRequest{
		UserAddress: "0xaa",
		ServiceType: domain.ServiceType(9),
		TxHash:      "0x1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidServiceType)

	_, _, err = svc.AppendTx(ctx, conn, domain.AppendRequest{
		UserAddress: "0xaa",
		ServiceType: domain.ServiceWalletAudit,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTxHash)
}

func TestListPagination(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		user := "0xaa"
		if i%2 == 1 {
			user = "0xbb"
		}
		_, _, err := svc.AppendTx(ctx, conn, domain.AppendRequest{
			UserAddress:          user,
			ServiceType:          domain.ServiceWalletReputation,
			Cost:                 types.MustAmount("10"),
			RemainingBudgetAfter: types.MustAmount("90"),
			BlockNumber:          uint64(i),
			ExecutedAt:           base.Add(time.Duration(i) * time.Minute),
			TxHash:               fmt.Sprintf("0xhash%d", i),
			LogIndex:             0,
		})
		require.NoError(t, err)
	}

	t.Run("pages descend by executed_at", func(t *testing.T) {
		page1, err := svc.List(ctx, domain.ListRequest{PageSize: 3})
		require.NoError(t, err)
		require.Len(t, page1.Executions, 3)
		assert.True(t, page1.HasMore)
		assert.Equal(t, "0xhash6", page1.Executions[0].TxHash)
		assert.Equal(t, "0xhash4", page1.Executions[2].TxHash)

		page2, err := svc.List(ctx, domain.ListRequest{PageSize: 3, PageToken: page2Token(t, page1)})
		require.NoError(t, err)
		require.Len(t, page2.Executions, 3)
		assert.Equal(t, "0xhash3", page2.Executions[0].TxHash)

		page3, err := svc.List(ctx, domain.ListRequest{PageSize: 3, PageToken: page2Token(t, page2)})
		require.NoError(t, err)
		require.Len(t, page3.Executions, 1)
		assert.False(t, page3.HasMore)
		assert.Equal(t, "0xhash0", page3.Executions[0].TxHash)
	})

	t.Run("filters by user", func(t *testing.T) {
		resp, err := svc.List(ctx, domain.ListRequest{UserAddress: "0xBB"})
		require.NoError(t, err)
		assert.Len(t, resp.Executions, 3)
		for _, exec := range resp.Executions {
			assert.Equal(t, "0xbb", exec.UserAddress)
		}
	})

	t.Run("oversized page rejected", func(t *testing.T) {
		_, err := svc.List(ctx, domain.ListRequest{PageSize: 500})
		assert.ErrorIs(t, err, domain.ErrInvalidPageSize)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		_, err := svc.List(ctx, domain.ListRequest{PageToken: "not-a-token"})
		assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
	})
}

func page2Token(t *testing.T, resp domain.ListResponse) string {
	t.Helper()
	require.NotEmpty(t, resp.NextPageToken)
	return resp.NextPageToken
}
