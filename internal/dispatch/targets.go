package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/circuitbreaker"
	"milestone-reconciler/pkg/trace"
)

// RoutingKey is the MQ routing key for queued recompute requests.
const RoutingKey = "milestone.recompute"

// RecomputeMessage is the payload published for RoutingKey.
type RecomputeMessage struct {
	MilestoneID string    `json:"milestone_id"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source"`
}

type milestoneReconciler interface {
	ByMilestone(ctx context.Context, milestoneID string) model.ReconciliationReport
}

// CoordinatorTarget recomputes in process.
type CoordinatorTarget struct {
	coordinator milestoneReconciler
}

func NewCoordinatorTarget(c milestoneReconciler) *CoordinatorTarget {
	return &CoordinatorTarget{coordinator: c}
}

func (t *CoordinatorTarget) Name() string { return "local" }

func (t *CoordinatorTarget) Recompute(ctx context.Context, milestoneID string) error {
	report := t.coordinator.ByMilestone(ctx, milestoneID)
	if !report.Success {
		return fmt.Errorf("recompute failed: %s", strings.Join(report.Errors, "; "))
	}
	return nil
}

const maxResponseBytes = 1 << 20

// HTTPTarget calls the recompute API of a (possibly remote) reconciler.
type HTTPTarget struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPTarget(url, secret string, client *http.Client, breaker *circuitbreaker.CircuitBreaker) *HTTPTarget {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	return &HTTPTarget{url: url, secret: secret, client: client, breaker: breaker}
}

func (t *HTTPTarget) Name() string { return "http" }

func (t *HTTPTarget) Recompute(ctx context.Context, milestoneID string) error {
	body, err := json.Marshal(map[string]string{"milestone_id": milestoneID})
	if err != nil {
		return err
	}

	var payload []byte
	err = t.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if t.secret != "" {
			req.Header.Set("Authorization", "Bearer "+t.secret)
		}
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName(), traceID)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call recompute API: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("recompute API returned status %d", resp.StatusCode)
		}
		payload, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("failed to read recompute response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// API 对业务失败同样返回 200，需要看报告里的 success；这类失败不计入熔断
	var report model.ReconciliationReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("failed to decode recompute response: %w", err)
	}
	if !report.Success {
		return fmt.Errorf("recompute failed: %s", strings.Join(report.Errors, "; "))
	}
	return nil
}

type publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQTarget queues the request on RabbitMQ; the consumer side performs the recompute.
type MQTarget struct {
	publisher publisher
	now       func() time.Time
}

func NewMQTarget(p publisher) *MQTarget {
	return &MQTarget{publisher: p, now: time.Now}
}

func (t *MQTarget) Name() string { return "mq" }

func (t *MQTarget) Recompute(ctx context.Context, milestoneID string) error {
	msg := RecomputeMessage{
		MilestoneID: milestoneID,
		RequestedAt: t.now().UTC(),
		Source:      "task_webhook",
	}
	if err := t.publisher.PublishWithContext(ctx, RoutingKey, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", RoutingKey, err)
	}
	return nil
}
