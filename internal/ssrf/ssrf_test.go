package ssrf

import (
	"context"
	"testing"
)

func TestCheckURL(t *testing.T) {
	g := NewGuard(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"loopback ip", "http://127.0.0.1/hook", true},
		{"loopback range", "http://127.8.8.8:9000/hook", true},
		{"ipv6 loopback", "http://[::1]/hook", true},
		{"localhost name", "http://localhost:8080/hook", true},
		{"private 10", "https://10.1.2.3/hook", true},
		{"private 172", "https://172.16.0.9/hook", true},
		{"private 172 upper", "https://172.31.255.1/hook", true},
		{"private 192", "https://192.168.1.1/hook", true},
		{"link local", "http://169.254.169.254/latest/meta-data", true},
		{"gcp metadata name", "http://metadata.google.internal/computeMetadata", true},
		{"zero net", "http://0.0.0.0/hook", true},
		{"dot local", "http://printer.local/hook", true},
		{"dot internal", "http://db.internal/hook", true},
		{"ftp scheme", "ftp://example.com/hook", true},
		{"no host", "https:///hook", true},
		{"public ip", "https://93.184.216.34/hook", false},
		{"public 172", "https://172.32.0.1/hook", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckURL(ctx, tt.url)
			if tt.blocked && err == nil {
				t.Errorf("CheckURL(%q) = nil, want blocked", tt.url)
			}
			if !tt.blocked && err != nil {
				t.Errorf("CheckURL(%q) = %v, want allowed", tt.url, err)
			}
		})
	}
}

func TestAllowedHostsBypass(t *testing.T) {
	g := NewGuard([]string{"agents.corp"})
	ctx := context.Background()

	if err := g.CheckURL(ctx, "http://agents.corp/hook"); err != nil {
		t.Fatalf("exact allowlisted host blocked: %v", err)
	}
	if err := g.CheckURL(ctx, "http://bee1.agents.corp/hook"); err != nil {
		t.Fatalf("allowlisted subdomain blocked: %v", err)
	}
	if err := g.CheckURL(ctx, "http://notagents.corp.evil/hook"); err == nil {
		t.Log("unrelated host resolved as public; acceptable")
	}
	// Allowlist must not leak to other private destinations.
	if err := g.CheckURL(ctx, "http://10.0.0.1/hook"); err == nil {
		t.Fatal("private ip allowed despite unrelated allowlist")
	}
}
