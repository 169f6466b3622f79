package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"go.uber.org/zap"
)

// sweepRecorder tracks which jobs ran.
type sweepRecorder struct {
	mu   sync.Mutex
	runs map[string]int
	fail string
}

func newSweepRecorder() *sweepRecorder {
	return &sweepRecorder{runs: make(map[string]int)}
}

func (r *sweepRecorder) hit(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[name]++
	if r.fail == name {
		return errors.New("sweep blew up")
	}
	return nil
}

func (r *sweepRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[name]
}

type planSweepStub struct{ rec *sweepRecorder }

func (p *planSweepStub) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Response, error) {
	return nil, nil
}
func (p *planSweepStub) Get(ctx context.Context, code string) (*plandomain.Response, error) {
	return nil, nil
}
func (p *planSweepStub) List(ctx context.Context, req plandomain.ListRequest) ([]plandomain.Response, error) {
	return nil, nil
}
func (p *planSweepStub) Archive(ctx context.Context, code string) (*plandomain.Response, error) {
	return nil, nil
}
func (p *planSweepStub) Provision(ctx context.Context, req plandomain.ProvisionRequest) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) Suspend(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) Resume(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) Cancel(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) Revoke(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) ListAssignments(ctx context.Context, req plandomain.ListAssignmentsRequest) ([]plandomain.AssignmentResponse, error) {
	return nil, nil
}
func (p *planSweepStub) ActiveAssignments(ctx context.Context, ref principal.Ref) ([]plandomain.Assignment, error) {
	return nil, nil
}
func (p *planSweepStub) BaseAssignment(ctx context.Context, ref principal.Ref) (*plandomain.Assignment, error) {
	return nil, nil
}
func (p *planSweepStub) EntitledLimit(ctx context.Context, ref principal.Ref, featureCodes []string) (grantdomain.Limit, error) {
	return grantdomain.Absent(), nil
}
func (p *planSweepStub) ExpireDue(ctx context.Context) (int, error) {
	return 1, p.rec.hit("expire_assignments")
}

type boostSweepStub struct{ rec *sweepRecorder }

func (b *boostSweepStub) Provision(ctx context.Context, req boostdomain.ProvisionRequest) (*boostdomain.Response, error) {
	return nil, nil
}
func (b *boostSweepStub) Get(ctx context.Context, id string) (*boostdomain.Response, error) {
	return nil, nil
}
func (b *boostSweepStub) List(ctx context.Context, req boostdomain.ListRequest) ([]boostdomain.Response, error) {
	return nil, nil
}
func (b *boostSweepStub) Cancel(ctx context.Context, id string) (*boostdomain.Response, error) {
	return nil, nil
}
func (b *boostSweepStub) Consume(ctx context.Context, id string, quantity int64) (bool, error) {
	return false, nil
}
func (b *boostSweepStub) UsableByPool(ctx context.Context, p principal.Ref, featureCodes []string) ([]boostdomain.Boost, error) {
	return nil, nil
}
func (b *boostSweepStub) ExpireDue(ctx context.Context) (int, error) {
	return 0, b.rec.hit("expire_boosts")
}

type alertSweepStub struct{ rec *sweepRecorder }

func (a *alertSweepStub) EvaluatePrincipal(ctx context.Context, p principal.Ref) (int, error) {
	return 0, nil
}
func (a *alertSweepStub) EvaluateAll(ctx context.Context) (int, error) {
	return 0, a.rec.hit("alert_sweep")
}
func (a *alertSweepStub) List(ctx context.Context, req alertdomain.ListRequest) ([]alertdomain.Response, error) {
	return nil, nil
}
func (a *alertSweepStub) ResolveManually(ctx context.Context, id string) (*alertdomain.Response, error) {
	return nil, nil
}

type webhookSweepStub struct{ rec *sweepRecorder }

func (w *webhookSweepStub) Emit(ctx context.Context, req webhookdomain.DispatchRequest) {}
func (w *webhookSweepStub) Register(ctx context.Context, req webhookdomain.RegisterRequest) (*webhookdomain.Response, error) {
	return nil, nil
}
func (w *webhookSweepStub) Update(ctx context.Context, req webhookdomain.UpdateRequest) (*webhookdomain.Response, error) {
	return nil, nil
}
func (w *webhookSweepStub) Delete(ctx context.Context, id string) error { return nil }
func (w *webhookSweepStub) Get(ctx context.Context, id string) (*webhookdomain.Response, error) {
	return nil, nil
}
func (w *webhookSweepStub) List(ctx context.Context, req webhookdomain.ListRequest) ([]webhookdomain.Response, error) {
	return nil, nil
}
func (w *webhookSweepStub) Dispatch(ctx context.Context, req webhookdomain.DispatchRequest) (*webhookdomain.DispatchSummary, error) {
	return nil, nil
}
func (w *webhookSweepStub) Deliver(ctx context.Context, deliveryID snowflake.ID) error { return nil }
func (w *webhookSweepStub) RetryDelivery(ctx context.Context, deliveryID string) (*webhookdomain.DeliveryResponse, error) {
	return nil, nil
}
func (w *webhookSweepStub) ListDeliveries(ctx context.Context, req webhookdomain.ListDeliveriesRequest) (*webhookdomain.DeliveryListResponse, error) {
	return nil, nil
}
func (w *webhookSweepStub) GetDelivery(ctx context.Context, deliveryID string) (*webhookdomain.DeliveryResponse, error) {
	return nil, nil
}
func (w *webhookSweepStub) ResetBreaker(ctx context.Context, id string) (*webhookdomain.Response, error) {
	return nil, nil
}
func (w *webhookSweepStub) SendTest(ctx context.Context, id string) (*webhookdomain.DeliveryResponse, error) {
	return nil, nil
}
func (w *webhookSweepStub) RedeliverDue(ctx context.Context) (int, error) {
	return 0, w.rec.hit("webhook_redeliver")
}

type usageSweepStub struct {
	rec    *sweepRecorder
	mu     sync.Mutex
	cutoff time.Time
}

func (u *usageSweepStub) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Response, error) {
	return nil, nil
}
func (u *usageSweepStub) CurrentUsage(ctx context.Context, p principal.Ref, poolCode string, feature *featuredomain.Feature) (int64, error) {
	return 0, nil
}
func (u *usageSweepStub) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	u.mu.Lock()
	u.cutoff = cutoff
	u.mu.Unlock()
	return 0, u.rec.hit("prune_usage")
}

func (u *usageSweepStub) Cutoff() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cutoff
}

func newScheduler(t *testing.T, rec *sweepRecorder, cfg Config) (*Scheduler, *usageSweepStub) {
	t.Helper()
	usage := &usageSweepStub{rec: rec}
	sched, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)),
		PlanSvc:    &planSweepStub{rec: rec},
		BoostSvc:   &boostSweepStub{rec: rec},
		AlertSvc:   &alertSweepStub{rec: rec},
		WebhookSvc: &webhookSweepStub{rec: rec},
		UsageSvc:   usage,
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, usage
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	rec := newSweepRecorder()
	sched, usage := newScheduler(t, rec, Config{UsageRetentionDays: 30})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	for _, name := range []string{"expire_assignments", "expire_boosts", "alert_sweep", "webhook_redeliver", "prune_usage"} {
		if rec.count(name) != 1 {
			t.Fatalf("job %s ran %d times, want 1", name, rec.count(name))
		}
	}

	want := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	if !usage.Cutoff().Equal(want) {
		t.Fatalf("prune cutoff = %v, want %v", usage.Cutoff(), want)
	}
}

func TestEnabledJobsFilterSweep(t *testing.T) {
	rec := newSweepRecorder()
	sched, _ := newScheduler(t, rec, Config{EnabledJobs: []string{"alert_sweep"}})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rec.count("alert_sweep") != 1 {
		t.Fatalf("alert_sweep ran %d times, want 1", rec.count("alert_sweep"))
	}
	if rec.count("expire_assignments") != 0 || rec.count("prune_usage") != 0 {
		t.Fatalf("disabled jobs ran: %+v", rec.runs)
	}
}

func TestJobFailureDoesNotBlockOthers(t *testing.T) {
	rec := newSweepRecorder()
	rec.fail = "expire_boosts"
	sched, _ := newScheduler(t, rec, Config{})

	err := sched.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	for _, name := range []string{"expire_assignments", "expire_boosts", "alert_sweep", "webhook_redeliver", "prune_usage"} {
		if rec.count(name) != 1 {
			t.Fatalf("job %s ran %d times, want 1", name, rec.count(name))
		}
	}
}
