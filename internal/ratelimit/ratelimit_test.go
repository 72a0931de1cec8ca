package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindow(t *testing.T) {
	l := New(DefaultRules())
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		d := l.Check("POST", "/api/auth/register", "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("request %d denied inside budget", i+1)
		}
		if d.Remaining != 5-i-1 {
			t.Fatalf("remaining = %d, want %d", d.Remaining, 5-i-1)
		}
	}

	d := l.Check("POST", "/api/auth/register", "1.2.3.4")
	if d.Allowed {
		t.Fatal("sixth register allowed")
	}
	if !d.Reset.Equal(now.Add(time.Minute)) {
		t.Fatalf("reset = %v, want window start + 1m", d.Reset)
	}

	// Other keys are unaffected.
	if d := l.Check("POST", "/api/auth/register", "5.6.7.8"); !d.Allowed {
		t.Fatal("separate key denied")
	}

	// Window rolls over.
	now = now.Add(61 * time.Second)
	if d := l.Check("POST", "/api/auth/register", "1.2.3.4"); !d.Allowed {
		t.Fatal("denied after window rollover")
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	l := New(DefaultRules())

	d := l.Check("GET", "/api/stream", "agent")
	if d.Limit != 5 {
		t.Fatalf("sse limit = %d, want 5", d.Limit)
	}
	d = l.Check("GET", "/api/messages", "agent")
	if d.Limit != 60 {
		t.Fatalf("catch-all limit = %d, want 60", d.Limit)
	}
}

func TestSweep(t *testing.T) {
	l := New(DefaultRules())
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	l.Check("GET", "/api/messages", "a")
	l.Check("GET", "/api/messages", "b")
	now = now.Add(2 * time.Minute)
	l.Check("GET", "/api/messages", "c")

	if removed := l.Sweep(); removed != 2 {
		t.Fatalf("removed = %d, want 2 expired windows", removed)
	}
}

func TestKeyFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/messages", nil)
	if k := KeyFor(r, "drone"); k != "drone" {
		t.Fatalf("key = %s, want identity", k)
	}

	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	if k := KeyFor(r, ""); k != "9.9.9.9" {
		t.Fatalf("key = %s, want first forwarded hop", k)
	}

	r.Header.Del("X-Forwarded-For")
	r.RemoteAddr = "8.8.4.4:52100"
	if k := KeyFor(r, ""); k != "8.8.4.4" {
		t.Fatalf("key = %s, want remote host", k)
	}

	r.RemoteAddr = ""
	if k := KeyFor(r, ""); k != "unknown" {
		t.Fatalf("key = %s, want unknown", k)
	}
}
