// Package ratelimit applies fixed-window per-route request limits keyed by
// caller identity.
package ratelimit

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule binds a route pattern to a per-minute budget. The first matching
// rule wins, so order specific routes before the catch-all.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Limit   int
	Window  time.Duration
}

// DefaultRules covers the abuse-prone endpoints tighter than the rest.
func DefaultRules() []Rule {
	min := time.Minute
	return []Rule{
		{Name: "register", Pattern: regexp.MustCompile(`^POST /api/auth/register$`), Limit: 5, Window: min},
		{Name: "verify", Pattern: regexp.MustCompile(`^POST /api/auth/verify$`), Limit: 20, Window: min},
		{Name: "message-send", Pattern: regexp.MustCompile(`^POST /api/mailboxes/[^/]+/messages$`), Limit: 30, Window: min},
		{Name: "sse-connect", Pattern: regexp.MustCompile(`^GET /api/stream$`), Limit: 5, Window: min},
		{Name: "default", Pattern: regexp.MustCompile(`.`), Limit: 60, Window: min},
	}
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks fixed windows per (rule, key).
type Limiter struct {
	rules []Rule
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a limiter with the given rules.
func New(rules []Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetClock overrides the time source, for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Decision is the outcome of one limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Check consumes one request slot for method+path under key.
func (l *Limiter) Check(method, path, key string) Decision {
	route := method + " " + path
	var rule *Rule
	for i := range l.rules {
		if l.rules[i].Pattern.MatchString(route) {
			rule = &l.rules[i]
			break
		}
	}
	if rule == nil {
		return Decision{Allowed: true}
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	wkey := rule.Name + "|" + key
	w, ok := l.windows[wkey]
	if !ok || now.Sub(w.start) >= rule.Window {
		w = &window{start: now}
		l.windows[wkey] = w
	}

	reset := w.start.Add(rule.Window)
	if w.count >= rule.Limit {
		return Decision{Allowed: false, Limit: rule.Limit, Remaining: 0, Reset: reset}
	}
	w.count++
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - w.count, Reset: reset}
}

// Sweep drops expired windows. Run it periodically.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	longest := time.Minute
	for _, r := range l.rules {
		if r.Window > longest {
			longest = r.Window
		}
	}

	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.start) >= longest {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// KeyFor picks the limit key for a request: authenticated identity when
// known, else the client address from X-Forwarded-For.
func KeyFor(r *http.Request, identity string) string {
	if identity != "" {
		return identity
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if r.RemoteAddr != "" {
		host := r.RemoteAddr
		if i := strings.LastIndexByte(host, ':'); i > 0 {
			host = host[:i]
		}
		return host
	}
	return "unknown"
}

// SetHeaders writes the standard limit headers for a decision.
func SetHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}
