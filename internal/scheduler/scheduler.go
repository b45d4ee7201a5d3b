package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/permipay/permipay/internal/clock"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	"github.com/permipay/permipay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	IngestSvc ingestdomain.Service
	Clock     clock.Clock
	Limiter   *ratelimit.ChargeLimiter `optional:"true"`
	Config    Config                   `optional:"true"`
}

// Scheduler drives the ingest pipeline: every tick it drains the unapplied
// slice of the event log. Multiple replicas coordinate through the redis
// leader lock when rate limiting infrastructure is configured.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	ingestSvc ingestdomain.Service
	limiter   *ratelimit.ChargeLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.IngestSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		ingestSvc: p.IngestSvc,
		limiter:   p.Limiter,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "ingest_pending", s.cfg.JobTimeout, func(ctx context.Context) error {
		applied, err := s.ingestSvc.ProcessPending(ctx)
		if applied > 0 {
			s.log.Info("applied pending events", zap.Int("count", applied))
		}
		return err
	})
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	token, acquired, err := s.limiter.TryLeaderLock(ctx)
	if err != nil {
		s.log.Warn("leader lock unavailable, running anyway",
			zap.String("job", name),
			zap.Error(err),
		)
	} else if !acquired {
		return nil
	}
	if token != "" {
		defer func() {
			_ = s.limiter.ReleaseLeaderLock(context.WithoutCancel(ctx), token)
		}()
	}

	start := s.clock.Now()
	err = fn(ctx)
	took := s.clock.Now().Sub(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("job timed out",
				zap.String("job", name),
				zap.Duration("timeout", timeout),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("took", took),
	)
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
