package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	"github.com/permipay/permipay/pkg/types"
	"gorm.io/datatypes"
)

type Normalizer struct {
	genID *snowflake.Node
}

func NewNormalizer(genID *snowflake.Node) ingestdomain.Normalizer {
	return &Normalizer{genID: genID}
}

func (n *Normalizer) Normalize(raw ingestdomain.RawLog) (*chaineventdomain.ChainEvent, error) {
	txHash := strings.ToLower(strings.TrimSpace(raw.TxHash))
	if txHash == "" {
		return nil, fmt.Errorf("%w: missing tx_hash", ingestdomain.ErrMalformedEvent)
	}
	user := strings.ToLower(strings.TrimSpace(raw.User))
	if user == "" {
		return nil, fmt.Errorf("%w: missing user", ingestdomain.ErrMalformedEvent)
	}
	if raw.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", ingestdomain.ErrMalformedEvent)
	}

	ev := &chaineventdomain.ChainEvent{
		ID:          n.genID.Generate(),
		TxHash:      txHash,
		LogIndex:    raw.LogIndex,
		BlockNumber: raw.BlockNumber,
		UserAddress: user,
		OccurredAt:  time.Unix(raw.Timestamp, 0).UTC(),
	}

	switch raw.Event {
	case ingestdomain.EventPermissionGranted:
		limit, err := types.ParseAmount(raw.SpendingLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: spending_limit %q", ingestdomain.ErrMalformedEvent, raw.SpendingLimit)
		}
		if limit.IsZero() {
			return nil, fmt.Errorf("%w: zero spending_limit", ingestdomain.ErrMalformedEvent)
		}
		if raw.ExpiresAt <= raw.Timestamp {
			return nil, fmt.Errorf("%w: expiry not after grant", ingestdomain.ErrMalformedEvent)
		}
		ev.Kind = chaineventdomain.KindPermissionGranted
		ev.Payload = datatypes.JSONMap{
			chaineventdomain.PayloadSpendingLimit: limit.String(),
			chaineventdomain.PayloadExpiresAt:     raw.ExpiresAt,
		}

	case ingestdomain.EventServiceExecuted:
		if raw.ServiceType == nil {
			return nil, fmt.Errorf("%w: missing service_type", ingestdomain.ErrMalformedEvent)
		}
		st, err := executiondomain.ParseServiceType(*raw.ServiceType)
		if err != nil {
			return nil, fmt.Errorf("%w: service_type %d", ingestdomain.ErrMalformedEvent, *raw.ServiceType)
		}
		cost, err := types.ParseAmount(raw.Cost)
		if err != nil {
			return nil, fmt.Errorf("%w: cost %q", ingestdomain.ErrMalformedEvent, raw.Cost)
		}
		if cost.IsZero() {
			return nil, fmt.Errorf("%w: zero cost", ingestdomain.ErrMalformedEvent)
		}
		remaining, err := types.ParseAmount(raw.RemainingBudget)
		if err != nil {
			return nil, fmt.Errorf("%w: remaining_budget %q", ingestdomain.ErrMalformedEvent, raw.RemainingBudget)
		}
		ev.Kind = chaineventdomain.KindServiceExecuted
		ev.Payload = datatypes.JSONMap{
			chaineventdomain.PayloadServiceType:     int64(st),
			chaineventdomain.PayloadCost:            cost.String(),
			chaineventdomain.PayloadRemainingBudget: remaining.String(),
		}

	case ingestdomain.EventPermissionRevoked:
		ev.Kind = chaineventdomain.KindPermissionRevoked
		ev.Payload = datatypes.JSONMap{}

	default:
		return nil, fmt.Errorf("%w: %q", ingestdomain.ErrUnknownEvent, raw.Event)
	}

	return ev, nil
}
