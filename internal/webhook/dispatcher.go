// Package webhook delivers wake calls to agent-registered HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
)

const (
	requestTimeout = 5 * time.Second
	cacheTTL       = 60 * time.Second
)

// target is one registered agent endpoint.
type target struct {
	identity string
	url      string
	token    string
}

// Dispatcher pushes wake notifications to agent gateways. Delivery is
// fire-and-forget: failures are logged, never retried, and never surfaced
// to the caller that triggered the wake.
type Dispatcher struct {
	tokens  store.TokenStore
	guard   *ssrf.Guard
	client  *http.Client
	limiter *rate.Limiter

	mu        sync.Mutex
	targets   map[string][]target // identity -> endpoints
	refreshed time.Time
}

// NewDispatcher creates a dispatcher over the token store.
func NewDispatcher(tokens store.TokenStore, guard *ssrf.Guard) *Dispatcher {
	return &Dispatcher{
		tokens:  tokens,
		guard:   guard,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		targets: make(map[string][]target),
	}
}

// Invalidate drops the endpoint cache so the next notify re-reads the
// token store. Called when a webhook registration changes.
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshed = time.Time{}
}

// Notify delivers a wake message to every registered endpoint of identity,
// in the background.
func (d *Dispatcher) Notify(identity, message string) {
	endpoints, err := d.endpointsFor(identity)
	if err != nil {
		slog.Warn("webhook endpoint lookup failed", "identity", identity, "error", err)
		return
	}
	for _, ep := range endpoints {
		go d.deliver(ep, message)
	}
}

func (d *Dispatcher) endpointsFor(identity string) ([]target, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.refreshed) > cacheTTL {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		toks, err := d.tokens.ListAll(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		fresh := make(map[string][]target)
		now := time.Now()
		for _, t := range toks {
			if t.WebhookURL == "" || !t.Valid(now) {
				continue
			}
			fresh[t.Identity] = append(fresh[t.Identity], target{
				identity: t.Identity,
				url:      t.WebhookURL,
				token:    t.WebhookToken,
			})
		}
		d.targets = fresh
		d.refreshed = now
	}
	return d.targets[identity], nil
}

func (d *Dispatcher) deliver(ep target, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		slog.Warn("webhook delivery dropped by rate limit", "identity", ep.identity)
		return
	}
	if err := d.guard.CheckURL(ctx, ep.url); err != nil {
		slog.Warn("webhook url rejected", "identity", ep.identity, "error", err)
		return
	}

	body, _ := json.Marshal(map[string]string{
		"message":  message,
		"wakeMode": "now",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		slog.Warn("webhook request build failed", "identity", ep.identity, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Debug("webhook delivery failed", "identity", ep.identity, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Debug("webhook delivery rejected", "identity", ep.identity, "status", resp.StatusCode)
	}
}
