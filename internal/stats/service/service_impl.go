package service

import (
	"context"
	"errors"
	"time"

	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
	"github.com/permipay/permipay/internal/clock"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	obsmetrics "github.com/permipay/permipay/internal/observability/metrics"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"github.com/permipay/permipay/pkg/db"
	"github.com/permipay/permipay/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p Params) statsdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("stats.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) FoldGrantTx(ctx context.Context, tx *gorm.DB, userAddress string, at time.Time) error {
	g, err := lockGlobal(ctx, tx)
	if err != nil {
		return err
	}
	g.TotalPermissionsGranted++
	g.ActivePermissions++
	// Running counter: incremented per grant event, matching the on-chain
	// indexer. Repeat grantees inflate it; DistinctUsers is the exact count.
	g.UniqueUsers++
	g.LastUpdated = at.UTC()
	if err := saveGlobal(ctx, tx, g); err != nil {
		return err
	}

	d, err := lockDaily(ctx, tx, statsdomain.DayKey(at))
	if err != nil {
		return err
	}
	d.PermissionsGranted++
	d.UniqueUsers++
	if err := saveDaily(ctx, tx, d); err != nil {
		return err
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&statsdomain.SeenUser{
			UserAddress: userAddress,
			FirstSeenAt: at.UTC(),
		}).Error
}

func (s *Service) FoldExecutionTx(ctx context.Context, tx *gorm.DB, serviceType executiondomain.ServiceType, cost types.Amount, at time.Time) error {
	g, err := lockGlobal(ctx, tx)
	if err != nil {
		return err
	}
	g.TotalExecutions++
	g.TotalRevenue = g.TotalRevenue.Add(cost)
	g.LastUpdated = at.UTC()
	if err := saveGlobal(ctx, tx, g); err != nil {
		return err
	}

	d, err := lockDaily(ctx, tx, statsdomain.DayKey(at))
	if err != nil {
		return err
	}
	d.ServiceExecutions++
	d.Revenue = d.Revenue.Add(cost)
	switch serviceType {
	case executiondomain.ServiceContractInspector:
		d.ContractInspectorCount++
	case executiondomain.ServiceWalletReputation:
		d.WalletReputationCount++
	case executiondomain.ServiceWalletAudit:
		d.WalletAuditCount++
	}
	return saveDaily(ctx, tx, d)
}

func (s *Service) FoldRevokeTx(ctx context.Context, tx *gorm.DB, at time.Time) error {
	g, err := lockGlobal(ctx, tx)
	if err != nil {
		return err
	}
	if g.ActivePermissions > 0 {
		g.ActivePermissions--
	}
	g.LastUpdated = at.UTC()
	if err := saveGlobal(ctx, tx, g); err != nil {
		return err
	}

	d, err := lockDaily(ctx, tx, statsdomain.DayKey(at))
	if err != nil {
		return err
	}
	d.PermissionsRevoked++
	return saveDaily(ctx, tx, d)
}

func (s *Service) Global(ctx context.Context) (*statsdomain.GlobalStats, error) {
	var g statsdomain.GlobalStats
	err := s.db.WithContext(ctx).
		Where("id = ?", statsdomain.GlobalStatsID).
		First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyGlobal(), nil
		}
		return nil, err
	}
	return &g, nil
}

func (s *Service) Range(ctx context.Context, req statsdomain.RangeRequest) ([]statsdomain.DailyStats, error) {
	from, err := parseDay(req.From)
	if err != nil {
		return nil, err
	}
	to, err := parseDay(req.To)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, statsdomain.ErrInvalidRange
	}

	var days []statsdomain.DailyStats
	err = s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", req.From, req.To).
		Order("date ASC").
		Find(&days).Error
	if err != nil {
		return nil, err
	}
	return days, nil
}

func (s *Service) DistinctUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&statsdomain.SeenUser{}).Count(&n).Error
	return n, err
}

// Rebuild truncates every counter set and recomputes it from the two sources
// of record. Grant and revoke counters replay from the canonical event log in
// (block_number, log_index) order, tracking per-user active state in memory
// so revocation decrements land exactly once. Execution counters replay from
// the journal instead: it already excludes business-rejected events, and it
// holds the API charges that have no chain event behind them.
func (s *Service) Rebuild(ctx context.Context) error {
	start := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&statsdomain.GlobalStats{},
			&statsdomain.DailyStats{},
			&statsdomain.SeenUser{},
		} {
			if err := tx.WithContext(ctx).Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}

		const batch = 500

		// Lifecycle replay must honor on-chain order, so page by keyset on
		// (block_number, log_index) rather than letting gorm batch on the
		// primary key.
		active := make(map[string]bool)
		lastBlock, lastIndex := int64(-1), int64(-1)
		for {
			var events []chaineventdomain.ChainEvent
			err := tx.WithContext(ctx).
				Where("kind IN ?", []chaineventdomain.Kind{
					chaineventdomain.KindPermissionGranted,
					chaineventdomain.KindPermissionRevoked,
				}).
				Where("block_number > ? OR (block_number = ? AND log_index > ?)", lastBlock, lastBlock, lastIndex).
				Order("block_number ASC, log_index ASC").
				Limit(batch).
				Find(&events).Error
			if err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}
			for i := range events {
				if err := s.replayLifecycle(ctx, tx, &events[i], active); err != nil {
					return err
				}
			}
			last := events[len(events)-1]
			lastBlock, lastIndex = int64(last.BlockNumber), int64(last.LogIndex)
		}

		// Execution folds are commutative, so batch order is irrelevant.
		var execs []executiondomain.ServiceExecution
		return tx.WithContext(ctx).Model(&executiondomain.ServiceExecution{}).
			FindInBatches(&execs, batch, func(_ *gorm.DB, _ int) error {
				for i := range execs {
					rec := &execs[i]
					if err := s.FoldExecutionTx(ctx, tx, rec.ServiceType, rec.Cost, rec.ExecutedAt); err != nil {
						return err
					}
				}
				return nil
			}).Error
	})
	if err != nil {
		return err
	}

	s.metrics.RecordStatsRebuild(ctx)
	s.log.Info("stats rebuilt", zap.Duration("took", s.clock.Now().Sub(start)))
	return nil
}

func (s *Service) replayLifecycle(ctx context.Context, tx *gorm.DB, ev *chaineventdomain.ChainEvent, active map[string]bool) error {
	switch ev.Kind {
	case chaineventdomain.KindPermissionGranted:
		active[ev.UserAddress] = true
		return s.FoldGrantTx(ctx, tx, ev.UserAddress, ev.OccurredAt)

	case chaineventdomain.KindPermissionRevoked:
		if !active[ev.UserAddress] {
			return nil
		}
		active[ev.UserAddress] = false
		return s.FoldRevokeTx(ctx, tx, ev.OccurredAt)
	}
	return nil
}

func lockGlobal(ctx context.Context, tx *gorm.DB) (*statsdomain.GlobalStats, error) {
	var g statsdomain.GlobalStats
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ?", statsdomain.GlobalStatsID).
		First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyGlobal(), nil
		}
		return nil, err
	}
	return &g, nil
}

func saveGlobal(ctx context.Context, tx *gorm.DB, g *statsdomain.GlobalStats) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(g).Error
}

func lockDaily(ctx context.Context, tx *gorm.DB, day string) (*statsdomain.DailyStats, error) {
	var d statsdomain.DailyStats
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("date = ?", day).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &statsdomain.DailyStats{
				Date:    day,
				Revenue: types.Zero(),
			}, nil
		}
		return nil, err
	}
	return &d, nil
}

func saveDaily(ctx context.Context, tx *gorm.DB, d *statsdomain.DailyStats) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		UpdateAll: true,
	}).Create(d).Error
}

func emptyGlobal() *statsdomain.GlobalStats {
	return &statsdomain.GlobalStats{
		ID:           statsdomain.GlobalStatsID,
		TotalRevenue: types.Zero(),
	}
}

func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, statsdomain.ErrInvalidDate
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, statsdomain.ErrInvalidDate
	}
	return t, nil
}
