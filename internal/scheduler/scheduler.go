// Package scheduler runs the recurring sweeps: assignment and boost
// expiry, the alert threshold scan, webhook redelivery, and usage
// retention pruning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	PlanSvc    plandomain.Service
	BoostSvc   boostdomain.Service
	AlertSvc   alertdomain.Service
	WebhookSvc webhookdomain.Service
	UsageSvc   usagedomain.Service
	Limiter    *ratelimit.RequestLimiter `optional:"true"`
	Config     Config                    `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	planSvc    plandomain.Service
	boostSvc   boostdomain.Service
	alertSvc   alertdomain.Service
	webhookSvc webhookdomain.Service
	usageSvc   usagedomain.Service
	limiter    *ratelimit.RequestLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.PlanSvc == nil || p.BoostSvc == nil ||
		p.AlertSvc == nil || p.WebhookSvc == nil || p.UsageSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		planSvc:    p.PlanSvc,
		boostSvc:   p.BoostSvc,
		alertSvc:   p.AlertSvc,
		webhookSvc: p.WebhookSvc,
		usageSvc:   p.UsageSvc,
		limiter:    p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (int, error)) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	processed, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			log.Warn("job timed out",
				zap.Duration("timeout", timeout),
				zap.Int("processed", processed),
			)
			return nil
		}
		log.Error("job failed", zap.Error(err), zap.Int("processed", processed))
		return fmt.Errorf("%s: %w", name, err)
	}
	if processed > 0 {
		log.Info("job finished",
			zap.Int("processed", processed),
			zap.Duration("elapsed", elapsed),
		)
	}
	return nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(ctx context.Context) (int, error)
	}{
		{"expire_assignments", 30 * time.Second, s.planSvc.ExpireDue},
		{"expire_boosts", 30 * time.Second, s.boostSvc.ExpireDue},
		{"alert_sweep", time.Minute, s.alertSvc.EvaluateAll},
		{"webhook_redeliver", 2 * time.Minute, s.webhookSvc.RedeliverDue},
		{"prune_usage", time.Minute, s.pruneUsage},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.runLocked(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runLocked claims the sweep lock before running so only one instance
// sweeps at a time. Lock errors fail open: a broken redis must not stop
// expiries. Without a limiter the claim always succeeds.
func (s *Scheduler) runLocked(ctx context.Context) error {
	token, acquired, err := s.limiter.TryLockSweep(ctx)
	if err != nil {
		s.log.Warn("sweep lock unavailable, running anyway", zap.Error(err))
		return s.RunOnce(ctx)
	}
	if !acquired {
		s.log.Debug("sweep held by another instance, skipping")
		return nil
	}
	defer func() {
		if err := s.limiter.ReleaseSweep(ctx, token); err != nil {
			s.log.Warn("release sweep lock", zap.Error(err))
		}
	}()
	return s.RunOnce(ctx)
}

func (s *Scheduler) pruneUsage(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.UsageRetentionDays)
	deleted, err := s.usageSvc.PruneBefore(ctx, cutoff)
	return int(deleted), err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
