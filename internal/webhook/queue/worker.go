package queue

import (
	"context"
	"time"

	"github.com/smallbiznis/entitle/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const popTimeout = 5 * time.Second

// Worker drains the delivery queue for as long as the app runs.
type Worker struct {
	queue *RedisQueue
	svc   domain.Service
	log   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type WorkerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Queue     *RedisQueue
	Svc       domain.Service
	Log       *zap.Logger
}

func NewWorker(p WorkerParams) *Worker {
	w := &Worker{
		queue: p.Queue,
		svc:   p.Svc,
		log:   p.Log.Named("webhook.worker"),
	}
	if w.queue == nil {
		return w
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			w.cancel = cancel
			w.done = make(chan struct{})
			go w.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.cancel()
			select {
			case <-w.done:
			case <-ctx.Done():
			}
			return w.queue.Close()
		},
	})
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.log.Info("webhook worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("webhook worker stopped")
			return
		default:
		}

		id, err := w.queue.Dequeue(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Warn("webhook dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if id == 0 {
			continue
		}

		if err := w.svc.Deliver(ctx, id); err != nil {
			w.log.Warn("webhook delivery failed",
				zap.String("delivery_id", id.String()),
				zap.Error(err),
			)
		}
	}
}
