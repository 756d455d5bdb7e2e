package cache

import (
	"regexp"
	"strings"
	"testing"
)

func TestHashIP(t *testing.T) {
	t.Parallel()

	hex16 := regexp.MustCompile(`^[0-9a-f]{16}$`)
	seen := map[string]string{}
	for _, ip := range []string{"192.168.1.1", "192.168.1.2", "127.0.0.1", "::1", "2001:db8::7334", ""} {
		h := hashIP(ip)
		if !hex16.MatchString(h) {
			t.Errorf("hashIP(%q) = %q, want 16 hex chars", ip, h)
		}
		if h != hashIP(ip) {
			t.Errorf("hashIP(%q) not stable", ip)
		}
		if prev, dup := seen[h]; dup {
			t.Errorf("%q and %q share hash %s", prev, ip, h)
		}
		seen[h] = ip
	}
}

func TestWindowSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject string
		want    string
	}{
		{"5a0f6c1e-3b7d-4a70-9a59-0a4f6f1d2c3b", "5a0f6c1e-3b7d-4a70-9a59-0a4f6f1d2c3b"},
		{"ip:203.0.113.7", "ip:" + hashIP("203.0.113.7")},
		{"ip:", "ip:" + hashIP("")},
	}
	for _, tt := range tests {
		got := windowSubject(tt.subject)
		if got != tt.want {
			t.Errorf("windowSubject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
		if strings.Contains(got, "203.0.113.7") {
			t.Errorf("raw address leaked into %q", got)
		}
	}
}

func TestLiteratureKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		limit int
		want  string
	}{
		{"Graph Neural Networks", 10, "lit:graph neural networks_10"},
		{"  climate  ", 50, "lit:climate_50"},
		{"", 10, "lit:_10"},
	}
	for _, tt := range tests {
		if got := LiteratureKey(tt.query, tt.limit); got != tt.want {
			t.Errorf("LiteratureKey(%q, %d) = %q, want %q", tt.query, tt.limit, got, tt.want)
		}
	}
	if LiteratureKey("Climate", 10) != LiteratureKey("climate ", 10) {
		t.Error("keys must fold case and whitespace")
	}
}
