package service

import (
	"context"
	"errors"

	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
	"github.com/permipay/permipay/internal/clock"
	"github.com/permipay/permipay/internal/config"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	obsmetrics "github.com/permipay/permipay/internal/observability/metrics"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Config        config.Config
	Clock         clock.Clock
	Normalizer    ingestdomain.Normalizer
	PermissionSvc permissiondomain.Service
	ExecutionSvc  executiondomain.Service
	StatsSvc      statsdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.IngestConfig
	clock      clock.Clock
	normalizer ingestdomain.Normalizer
	permSvc    permissiondomain.Service
	execSvc    executiondomain.Service
	statSvc    statsdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) ingestdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ingest.service"),
		cfg:        p.Config.Ingest,
		clock:      p.Clock,
		normalizer: p.Normalizer,
		permSvc:    p.PermissionSvc,
		execSvc:    p.ExecutionSvc,
		statSvc:    p.StatsSvc,
		metrics:    p.Metrics,
	}
}

func (s *Service) Accept(ctx context.Context, raw ingestdomain.RawLog) (*ingestdomain.AcceptResponse, error) {
	ev, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var existing chaineventdomain.ChainEvent
		err := s.db.WithContext(ctx).
			Where("tx_hash = ? AND log_index = ?", ev.TxHash, ev.LogIndex).
			First(&existing).Error
		if err != nil {
			return nil, err
		}
		return &ingestdomain.AcceptResponse{
			EventID:  existing.ID.String(),
			Accepted: false,
		}, nil
	}

	s.metrics.RecordEventIngested(ctx, string(ev.Kind))
	return &ingestdomain.AcceptResponse{
		EventID:  ev.ID.String(),
		Accepted: true,
	}, nil
}

func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	settled := 0
	for {
		var events []chaineventdomain.ChainEvent
		err := s.db.WithContext(ctx).
			Where("applied = ?", false).
			Order("block_number ASC, log_index ASC").
			Limit(batchSize).
			Find(&events).Error
		if err != nil {
			return settled, err
		}
		if len(events) == 0 {
			return settled, nil
		}

		for i := range events {
			if err := s.applyEvent(ctx, &events[i]); err != nil {
				// Storage fault: leave the row unapplied so the next poll
				// retries it, and stop so ordering holds.
				return settled, err
			}
			settled++
		}

		if len(events) < batchSize {
			return settled, nil
		}
	}
}

// applyEvent settles one event in a single transaction: ledger mutation,
// journal append, stats fold and the applied flag commit together. A business
// rejection is final for that event and is recorded on the row instead of
// retried forever.
func (s *Service) applyEvent(ctx context.Context, ev *chaineventdomain.ChainEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := s.applyEventTx(ctx, tx, ev)
		if err != nil {
			if isBusinessRejection(err) {
				note = err.Error()
				s.log.Warn("event rejected",
					zap.String("event_id", ev.ID.String()),
					zap.String("kind", string(ev.Kind)),
					zap.String("tx_hash", ev.TxHash),
					zap.String("reason", note),
				)
			} else {
				return err
			}
		}
		return s.markApplied(ctx, tx, ev, note)
	})
}

func (s *Service) applyEventTx(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent) (string, error) {
	switch ev.Kind {
	case chaineventdomain.KindPermissionGranted:
		return s.applyGrant(ctx, tx, ev)
	case chaineventdomain.KindServiceExecuted:
		return s.applyExecution(ctx, tx, ev)
	case chaineventdomain.KindPermissionRevoked:
		return s.applyRevoke(ctx, tx, ev)
	}
	return "", ingestdomain.ErrUnknownEvent
}

func (s *Service) applyGrant(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent) (string, error) {
	limit, err := payloadAmount(ev.Payload, chaineventdomain.PayloadSpendingLimit)
	if err != nil {
		return "", err
	}
	expiresAt, err := payloadUnix(ev.Payload, chaineventdomain.PayloadExpiresAt)
	if err != nil {
		return "", err
	}

	_, err = s.permSvc.GrantTx(ctx, tx, permissiondomain.GrantRequest{
		UserAddress:   ev.UserAddress,
		SpendingLimit: limit,
		ExpiresAt:     expiresAt,
		GrantedAt:     ev.OccurredAt,
	})
	if err != nil {
		return "", err
	}
	return "", s.statSvc.FoldGrantTx(ctx, tx, ev.UserAddress, ev.OccurredAt)
}

func (s *Service) applyExecution(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent) (string, error) {
	st, err := payloadServiceType(ev.Payload)
	if err != nil {
		return "", err
	}
	cost, err := payloadAmount(ev.Payload, chaineventdomain.PayloadCost)
	if err != nil {
		return "", err
	}

	// Second dedup line behind the event log's unique key: an execution that
	// already sits in the journal must not charge or count again.
	var dup int64
	err = tx.WithContext(ctx).Model(&executiondomain.ServiceExecution{}).
		Where("tx_hash = ? AND log_index = ?", ev.TxHash, ev.LogIndex).
		Count(&dup).Error
	if err != nil {
		return "", err
	}
	if dup > 0 {
		return "already_journaled", nil
	}

	result, err := s.permSvc.ChargeTx(ctx, tx, permissiondomain.ChargeRequest{
		UserAddress: ev.UserAddress,
		Cost:        cost,
		At:          ev.OccurredAt,
	})
	if err != nil {
		return "", err
	}

	_, _, err = s.execSvc.AppendTx(ctx, tx, executiondomain.AppendRequest{
		UserAddress:          ev.UserAddress,
		ServiceType:          st,
		Cost:                 cost,
		RemainingBudgetAfter: result.RemainingBudget,
		BlockNumber:          ev.BlockNumber,
		ExecutedAt:           ev.OccurredAt,
		TxHash:               ev.TxHash,
		LogIndex:             ev.LogIndex,
	})
	if err != nil {
		return "", err
	}

	if err := s.statSvc.FoldExecutionTx(ctx, tx, st, cost, ev.OccurredAt); err != nil {
		return "", err
	}
	s.metrics.RecordExecutionApplied(ctx, st.Name())
	return "", nil
}

func (s *Service) applyRevoke(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent) (string, error) {
	changed, err := s.permSvc.RevokeTx(ctx, tx, ev.UserAddress, ev.OccurredAt)
	if err != nil {
		return "", err
	}
	if !changed {
		return "already_revoked", nil
	}
	return "", s.statSvc.FoldRevokeTx(ctx, tx, ev.OccurredAt)
}

func (s *Service) markApplied(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent, note string) error {
	now := s.clock.Now()
	return tx.WithContext(ctx).Model(&chaineventdomain.ChainEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]any{
			"applied":    true,
			"applied_at": now,
			"apply_note": note,
		}).Error
}

func isBusinessRejection(err error) bool {
	return errors.Is(err, permissiondomain.ErrNoPermission) ||
		errors.Is(err, permissiondomain.ErrPermissionExpired) ||
		errors.Is(err, permissiondomain.ErrBudgetExceeded) ||
		errors.Is(err, ingestdomain.ErrMalformedEvent) ||
		errors.Is(err, ingestdomain.ErrUnknownEvent)
}
