package webhook

import (
	"github.com/smallbiznis/entitle/internal/webhook/domain"
	"github.com/smallbiznis/entitle/internal/webhook/queue"
	"github.com/smallbiznis/entitle/internal/webhook/repository"
	"github.com/smallbiznis/entitle/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(queue.NewRedisQueue),
	fx.Provide(func(q *queue.RedisQueue) service.Queue {
		if q == nil {
			return nil
		}
		return q
	}),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) domain.Emitter { return s }),
	fx.Invoke(queue.NewWorker),
)
