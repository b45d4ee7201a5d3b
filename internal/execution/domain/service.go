package domain

import (
	"context"
	"errors"
	"time"

	"github.com/permipay/permipay/pkg/db/pagination"
	"github.com/permipay/permipay/pkg/types"
	"gorm.io/gorm"
)

type AppendRequest struct {
	UserAddress          string
	ServiceType          ServiceType
	Cost                 types.Amount
	RemainingBudgetAfter types.Amount
	BlockNumber          uint64
	ExecutedAt           time.Time
	TxHash               string
	LogIndex             uint32
}

type ListRequest struct {
	UserAddress string `form:"user"`
	PageToken   string `form:"page_token"`
	PageSize    int    `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Executions []ServiceExecution `json:"executions"`
}

type Service interface {
	// AppendTx records an execution inside the caller's transaction. The call
	// is idempotent on (tx_hash, log_index): a duplicate returns the existing
	// row with inserted=false and writes nothing.
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (exec *ServiceExecution, inserted bool, err error)

	// List returns executions ordered by executed_at descending.
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidCost      = errors.New("invalid_cost")
	ErrInvalidTxHash    = errors.New("invalid_tx_hash")
	ErrInvalidPageSize  = errors.New("invalid_page_size")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
