package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/webhook/domain"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// redeliverBatchSize bounds one redelivery sweep.
const redeliverBatchSize = 100

// Queue hands a created delivery to an out-of-process worker. When no
// queue is wired, deliveries are sent inline.
type Queue interface {
	Enqueue(ctx context.Context, deliveryID snowflake.ID) error
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Cfg     config.Config
	Policy  *config.PolicyHolder
	Queue   Queue            `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	cfg     config.Config
	policy  *config.PolicyHolder
	queue   Queue
	metrics *metrics.Metrics
	client  *http.Client
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("webhook.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		cfg:     p.Cfg,
		policy:  p.Policy,
		queue:   p.Queue,
		metrics: p.Metrics,
		// Per-attempt deadline comes from policy via context; the client
		// itself stays unbounded so a policy reload takes effect.
		client: &http.Client{},
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Response, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Secret) == "" {
		return nil, domain.ErrInvalidSecret
	}
	events, err := normalizeEvents(req.Events)
	if err != nil {
		return nil, err
	}

	var workspaceID *snowflake.ID
	if req.WorkspaceID != nil && strings.TrimSpace(*req.WorkspaceID) != "" {
		id, err := snowflake.ParseString(strings.TrimSpace(*req.WorkspaceID))
		if err != nil {
			return nil, domain.ErrInvalidWorkspace
		}
		workspaceID = &id
	}

	maxAttempts := s.policy.Current().WebhookMaxAttempts
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		maxAttempts = *req.MaxAttempts
	}

	now := s.clock.Now()
	webhook := &domain.Webhook{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		URL:         strings.TrimSpace(req.URL),
		Secret:      req.Secret,
		Events:      datatypes.JSONSlice[string](events),
		MaxAttempts: maxAttempts,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, webhook); err != nil {
		return nil, err
	}

	s.log.Info("webhook registered",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("url", webhook.URL),
	)
	resp := toResponse(webhook)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var updated *domain.Webhook
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		webhook, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if webhook == nil {
			return domain.ErrNotFound
		}

		if req.URL != nil {
			if err := validateURL(*req.URL); err != nil {
				return err
			}
			webhook.URL = strings.TrimSpace(*req.URL)
		}
		if req.Secret != nil {
			if strings.TrimSpace(*req.Secret) == "" {
				return domain.ErrInvalidSecret
			}
			webhook.Secret = *req.Secret
		}
		if req.Events != nil {
			events, err := normalizeEvents(req.Events)
			if err != nil {
				return err
			}
			webhook.Events = datatypes.JSONSlice[string](events)
		}
		if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
			webhook.MaxAttempts = *req.MaxAttempts
		}
		if req.Active != nil {
			webhook.IsActive = *req.Active
			if *req.Active {
				webhook.FailureCount = 0
			}
		}
		webhook.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, webhook); err != nil {
			return err
		}
		updated = webhook
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := toResponse(updated)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrNotFound
	}
	webhook, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return err
	}
	if webhook == nil {
		return domain.ErrNotFound
	}
	return s.repo.Delete(ctx, s.db, parsed)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	webhook, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if webhook == nil {
		return nil, domain.ErrNotFound
	}
	resp := toResponse(webhook)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	webhooks, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(webhooks))
	for i := range webhooks {
		resp = append(resp, toResponse(&webhooks[i]))
	}
	return resp, nil
}

// Emit publishes off the caller's request path. A synchronous send can
// block for the full HTTP timeout, so the caller never waits on it.
func (s *Service) Emit(ctx context.Context, req domain.DispatchRequest) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, time.Minute)
		defer cancel()
		if _, err := s.Dispatch(ctx, req); err != nil {
			s.log.Warn("webhook emit failed",
				zap.String("event", string(req.Event)),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchSummary, error) {
	if !req.Event.Valid() {
		return nil, domain.ErrInvalidEvent
	}

	targets, err := s.repo.ListTargets(ctx, s.db, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	payload := datatypes.JSONMap{
		"event":     string(req.Event),
		"data":      req.Data,
		"timestamp": s.clock.Now().Format(time.RFC3339),
	}

	summary := &domain.DispatchSummary{}
	for i := range targets {
		webhook := &targets[i]
		if !webhook.SubscribedTo(req.Event) {
			continue
		}
		summary.Matched++

		delivery := &domain.Delivery{
			ID:        s.genID.Generate(),
			WebhookID: webhook.ID,
			Event:     req.Event,
			Payload:   payload,
			Status:    domain.DeliveryStatusPending,
			CreatedAt: s.clock.Now(),
			UpdatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertDelivery(ctx, s.db, delivery); err != nil {
			return summary, err
		}
		summary.Queued++
		result := domain.DispatchResult{
			WebhookID:  webhook.ID.String(),
			DeliveryID: delivery.ID.String(),
			Status:     domain.DeliveryStatusPending,
		}

		if s.cfg.WebhookAsync && s.queue != nil {
			if err := s.queue.Enqueue(ctx, delivery.ID); err != nil {
				s.log.Warn("webhook enqueue failed, sending inline",
					zap.String("delivery_id", delivery.ID.String()),
					zap.Error(err),
				)
			} else {
				summary.Results = append(summary.Results, result)
				continue
			}
		}
		if err := s.Deliver(ctx, delivery.ID); err != nil {
			result.Status = domain.DeliveryStatusFailed
			summary.Failed++
			s.log.Warn("webhook delivery failed",
				zap.String("delivery_id", delivery.ID.String()),
				zap.String("url", webhook.URL),
				zap.Error(err),
			)
		} else {
			result.Status = domain.DeliveryStatusSuccess
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

func (s *Service) Deliver(ctx context.Context, deliveryID snowflake.ID) error {
	delivery, err := s.repo.FindDeliveryByID(ctx, s.db, deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		return domain.ErrDeliveryNotFound
	}
	webhook, err := s.repo.FindByID(ctx, s.db, delivery.WebhookID)
	if err != nil {
		return err
	}
	if webhook == nil {
		return domain.ErrNotFound
	}
	if !webhook.IsActive {
		return domain.ErrEndpointInactive
	}

	status, sendErr := s.send(ctx, webhook, delivery)

	now := s.clock.Now()
	delivery.Attempts++
	delivery.UpdatedAt = now
	if status > 0 {
		delivery.ResponseStatus = &status
	}

	succeeded := sendErr == nil && deliverySucceeded(status)
	if succeeded {
		delivery.Status = domain.DeliveryStatusSuccess
		delivery.DeliveredAt = &now
		delivery.LastError = nil
	} else {
		delivery.Status = domain.DeliveryStatusFailed
		msg := deliveryError(status, sendErr)
		delivery.LastError = &msg
	}

	if err := s.repo.UpdateDelivery(ctx, s.db, delivery); err != nil {
		return err
	}
	if err := s.applyOutcome(ctx, webhook.ID, succeeded); err != nil {
		return err
	}

	if s.metrics != nil {
		outcome := "failure"
		if succeeded {
			outcome = "success"
		}
		s.metrics.RecordWebhookDelivery(ctx, string(delivery.Event), outcome)
	}
	if !succeeded {
		return domain.ErrDeliveryFailed
	}
	return nil
}

// applyOutcome runs the breaker bookkeeping under a row lock: any success
// zeroes the failure count, failures accumulate toward the ceiling.
func (s *Service) applyOutcome(ctx context.Context, webhookID snowflake.ID, succeeded bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		webhook, err := s.repo.FindByIDForUpdate(ctx, tx, webhookID)
		if err != nil {
			return err
		}
		if webhook == nil {
			return domain.ErrNotFound
		}

		now := s.clock.Now()
		webhook.UpdatedAt = now
		if succeeded {
			webhook.FailureCount = 0
			status := domain.DeliveryStatusSuccess
			webhook.LastStatus = &status
			return s.repo.Update(ctx, tx, webhook)
		}

		webhook.FailureCount++
		status := domain.DeliveryStatusFailed
		webhook.LastStatus = &status
		if webhook.IsActive && webhook.FailureCount >= s.policy.Current().WebhookFailureCeiling {
			webhook.IsActive = false
			s.log.Warn("webhook circuit opened",
				zap.String("webhook_id", webhook.ID.String()),
				zap.String("url", webhook.URL),
				zap.Int("failure_count", webhook.FailureCount),
			)
			if s.metrics != nil {
				s.metrics.RecordCircuitOpened(ctx)
			}
		}
		return s.repo.Update(ctx, tx, webhook)
	})
}

func (s *Service) RetryDelivery(ctx context.Context, deliveryID string) (*domain.DeliveryResponse, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(deliveryID))
	if err != nil {
		return nil, domain.ErrDeliveryNotFound
	}
	if err := s.Deliver(ctx, parsed); err != nil && err != domain.ErrDeliveryFailed {
		return nil, err
	}
	return s.GetDelivery(ctx, deliveryID)
}

func (s *Service) ListDeliveries(ctx context.Context, req domain.ListDeliveriesRequest) (*domain.DeliveryListResponse, error) {
	deliveries, err := s.repo.ListDeliveries(ctx, s.db, req)
	if err != nil {
		return nil, err
	}

	var pageInfo *pagination.PageInfo
	if size := req.Page.PageSize; size > 0 {
		hasMore := len(deliveries) > size
		if hasMore {
			deliveries = deliveries[:size]
		}
		pageInfo = &pagination.PageInfo{HasMore: hasMore}
		if hasMore {
			last := deliveries[len(deliveries)-1]
			token, err := pagination.EncodeCursor(pagination.Cursor{
				ID:        last.ID.String(),
				CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
			if err == nil {
				pageInfo.NextPageToken = token
			}
		}
	}

	resp := make([]domain.DeliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		resp = append(resp, toDeliveryResponse(&deliveries[i]))
	}
	return &domain.DeliveryListResponse{Deliveries: resp, PageInfo: pageInfo}, nil
}

func (s *Service) GetDelivery(ctx context.Context, deliveryID string) (*domain.DeliveryResponse, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(deliveryID))
	if err != nil {
		return nil, domain.ErrDeliveryNotFound
	}
	delivery, err := s.repo.FindDeliveryByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, domain.ErrDeliveryNotFound
	}
	resp := toDeliveryResponse(delivery)
	return &resp, nil
}

func (s *Service) ResetBreaker(ctx context.Context, id string) (*domain.Response, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var reset *domain.Webhook
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		webhook, err := s.repo.FindByIDForUpdate(ctx, tx, parsed)
		if err != nil {
			return err
		}
		if webhook == nil {
			return domain.ErrNotFound
		}
		webhook.IsActive = true
		webhook.FailureCount = 0
		webhook.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, webhook); err != nil {
			return err
		}
		reset = webhook
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("webhook breaker reset", zap.String("webhook_id", reset.ID.String()))
	resp := toResponse(reset)
	return &resp, nil
}

func (s *Service) SendTest(ctx context.Context, id string) (*domain.DeliveryResponse, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	webhook, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if webhook == nil {
		return nil, domain.ErrNotFound
	}
	if !webhook.IsActive {
		return nil, domain.ErrEndpointInactive
	}

	now := s.clock.Now()
	delivery := &domain.Delivery{
		ID:        s.genID.Generate(),
		WebhookID: webhook.ID,
		Event:     domain.EventTest,
		Payload: datatypes.JSONMap{
			"event":     string(domain.EventTest),
			"data":      map[string]any{"webhook_id": webhook.ID.String()},
			"timestamp": now.Format(time.RFC3339),
		},
		Status:    domain.DeliveryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertDelivery(ctx, s.db, delivery); err != nil {
		return nil, err
	}
	if err := s.Deliver(ctx, delivery.ID); err != nil && err != domain.ErrDeliveryFailed {
		return nil, err
	}
	return s.GetDelivery(ctx, delivery.ID.String())
}

func (s *Service) RedeliverDue(ctx context.Context) (int, error) {
	deliveries, err := s.repo.ListRetryable(ctx, s.db, redeliverBatchSize)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range deliveries {
		err := s.Deliver(ctx, deliveries[i].ID)
		if err != nil && err != domain.ErrDeliveryFailed {
			// Breakers can open mid-sweep; skip siblings of a tripped
			// endpoint instead of failing the batch.
			if err == domain.ErrEndpointInactive {
				continue
			}
			return retried, err
		}
		retried++
	}
	return retried, nil
}

func (s *Service) send(ctx context.Context, webhook *domain.Webhook, delivery *domain.Delivery) (int, error) {
	body, err := json.Marshal(map[string]any(delivery.Payload))
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.policy.Current().WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(domain.SignatureHeader, domain.Sign(webhook.Secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

func deliverySucceeded(status int) bool {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

func deliveryError(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("unexpected status %d", status)
}

func validateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return domain.ErrInvalidURL
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.ErrInvalidURL
	}
	return nil
}

func normalizeEvents(events []string) ([]string, error) {
	normalized := make([]string, 0, len(events))
	for _, name := range events {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if !domain.Event(name).Valid() {
			return nil, domain.ErrInvalidEvent
		}
		normalized = append(normalized, name)
	}
	return normalized, nil
}

func toResponse(w *domain.Webhook) domain.Response {
	var workspaceID *string
	if w.WorkspaceID != nil {
		id := w.WorkspaceID.String()
		workspaceID = &id
	}
	return domain.Response{
		ID:           w.ID.String(),
		WorkspaceID:  workspaceID,
		URL:          w.URL,
		Events:       []string(w.Events),
		MaxAttempts:  w.MaxAttempts,
		IsActive:     w.IsActive,
		FailureCount: w.FailureCount,
		LastStatus:   w.LastStatus,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func toDeliveryResponse(d *domain.Delivery) domain.DeliveryResponse {
	return domain.DeliveryResponse{
		ID:             d.ID.String(),
		WebhookID:      d.WebhookID.String(),
		Event:          d.Event,
		Payload:        map[string]any(d.Payload),
		Status:         d.Status,
		Attempts:       d.Attempts,
		ResponseStatus: d.ResponseStatus,
		LastError:      d.LastError,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
	}
}
