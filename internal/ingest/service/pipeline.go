package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"github.com/permipay/permipay/pkg/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Unwind handles a chain reorg at fromBlock: every event at or above the cut
// is discarded, every projection is dropped, and the surviving log is
// replayed through the same per-event path as live ingestion. Executions
// recorded through the API are dropped too, since the chain state that
// authorized them may no longer exist.
func (s *Service) Unwind(ctx context.Context, fromBlock uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Where("block_number >= ?", fromBlock).
			Delete(&chaineventdomain.ChainEvent{}).Error; err != nil {
			return err
		}

		for _, model := range []any{
			&executiondomain.ServiceExecution{},
			&permissiondomain.Permission{},
			&statsdomain.GlobalStats{},
			&statsdomain.DailyStats{},
			&statsdomain.SeenUser{},
		} {
			if err := tx.WithContext(ctx).Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}

		return tx.WithContext(ctx).Model(&chaineventdomain.ChainEvent{}).
			Where("1 = 1").
			Updates(map[string]any{
				"applied":    false,
				"applied_at": nil,
				"apply_note": "",
			}).Error
	})
	if err != nil {
		return err
	}

	applied, err := s.ProcessPending(ctx)
	if err != nil {
		return err
	}
	s.log.Info("unwound and replayed",
		zap.Uint64("from_block", fromBlock),
		zap.Int("events_replayed", applied),
	)
	return nil
}

// JSONMap round-trips through the database as JSON, so numeric payload values
// come back as float64 or json.Number depending on the driver.

func payloadAmount(payload map[string]any, key string) (types.Amount, error) {
	raw, ok := payload[key]
	if !ok {
		return types.Zero(), fmt.Errorf("%w: missing %s", ingestdomain.ErrMalformedEvent, key)
	}
	str, ok := raw.(string)
	if !ok {
		return types.Zero(), fmt.Errorf("%w: %s is not a string", ingestdomain.ErrMalformedEvent, key)
	}
	amount, err := types.ParseAmount(str)
	if err != nil {
		return types.Zero(), fmt.Errorf("%w: %s %q", ingestdomain.ErrMalformedEvent, key, str)
	}
	return amount, nil
}

func payloadUnix(payload map[string]any, key string) (time.Time, error) {
	n, err := payloadInt64(payload, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}

func payloadServiceType(payload map[string]any) (executiondomain.ServiceType, error) {
	n, err := payloadInt64(payload, chaineventdomain.PayloadServiceType)
	if err != nil {
		return 0, err
	}
	st, err := executiondomain.ParseServiceType(n)
	if err != nil {
		return 0, fmt.Errorf("%w: service_type %d", ingestdomain.ErrMalformedEvent, n)
	}
	return st, nil
}

func payloadInt64(payload map[string]any, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ingestdomain.ErrMalformedEvent, key)
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ingestdomain.ErrMalformedEvent, key)
}
