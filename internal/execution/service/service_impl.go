package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	"github.com/permipay/permipay/pkg/db/option"
	"github.com/permipay/permipay/pkg/db/pagination"
	"github.com/permipay/permipay/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPageSize = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	store repository.Repository[executiondomain.ServiceExecution]
}

func NewService(p Params) executiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("execution.service"),
		genID: p.GenID,
		store: repository.ProvideStore[executiondomain.ServiceExecution](p.DB),
	}
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, req executiondomain.AppendRequest) (*executiondomain.ServiceExecution, bool, error) {
	user := strings.ToLower(strings.TrimSpace(req.UserAddress))
	if user == "" {
		return nil, false, executiondomain.ErrInvalidUser
	}
	if !req.ServiceType.Valid() {
		return nil, false, executiondomain.ErrInvalidServiceType
	}
	txHash := strings.ToLower(strings.TrimSpace(req.TxHash))
	if txHash == "" {
		return nil, false, executiondomain.ErrInvalidTxHash
	}

	record := &executiondomain.ServiceExecution{
		ID:                   s.genID.Generate(),
		UserAddress:          user,
		ServiceType:          req.ServiceType,
		Cost:                 req.Cost,
		RemainingBudgetAfter: req.RemainingBudgetAfter,
		BlockNumber:          req.BlockNumber,
		ExecutedAt:           req.ExecutedAt.UTC(),
		TxHash:               txHash,
		LogIndex:             req.LogIndex,
		CreatedAt:            time.Now().UTC(),
	}

	result := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return record, true, nil
	}

	// Duplicate delivery: surface the already-journaled row untouched.
	var existing executiondomain.ServiceExecution
	if err := tx.WithContext(ctx).
		Where("tx_hash = ? AND log_index = ?", txHash, req.LogIndex).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *Service) List(ctx context.Context, req executiondomain.ListRequest) (executiondomain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > 250 {
		return executiondomain.ListResponse{}, executiondomain.ErrInvalidPageSize
	}

	filter := &executiondomain.ServiceExecution{}
	if user := strings.ToLower(strings.TrimSpace(req.UserAddress)); user != "" {
		filter.UserAddress = user
	}

	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return executiondomain.ListResponse{}, executiondomain.ErrInvalidPageToken
		}
		cursor = decoded
	}

	items, err := s.store.Find(ctx, filter, option.ApplyCursor("executed_at", cursor, pageSize))
	if err != nil {
		return executiondomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *executiondomain.ServiceExecution) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			Timestamp: record.ExecutedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	executions := make([]executiondomain.ServiceExecution, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		executions = append(executions, *item)
	}

	return executiondomain.ListResponse{
		PageInfo:   *pageInfo,
		Executions: executions,
	}, nil
}
