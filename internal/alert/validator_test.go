package alert

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func stubResolve(t *testing.T, hosts map[string]string) {
	t.Helper()
	orig := resolve
	resolve = func(_ context.Context, host string) ([]netip.Addr, error) {
		if ip, ok := hosts[host]; ok {
			return []netip.Addr{netip.MustParseAddr(ip)}, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { resolve = orig })
}

func TestValidateTargetURL(t *testing.T) {
	stubResolve(t, map[string]string{
		"hooks.example.com":  "93.184.216.34",
		"internal.corp.test": "10.1.2.3",
		"metadata.test":      "169.254.169.254",
		"cgnat.test":         "100.64.0.9",
		"ula.test":           "fd00::1",
		"mapped.test":        "::ffff:192.168.0.4",
	})

	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://hooks.example.com/alerts", nil},
		{"https://hooks.example.com:443/v1/hooks", nil},
		{"https://not-yet-live.test/hook", nil},
		{"https://93.184.216.34/hook", nil},
		{"https://[2606:4700::1111]/hook", nil},
		{"http://hooks.example.com/hook", ErrInvalidScheme},
		{"ftp://hooks.example.com/hook", ErrInvalidScheme},
		{"https:///hook", ErrEmptyHost},
		{"https://LOCALHOST/hook", ErrLocalhostBlocked},
		{"https://api.localhost/hook", ErrLocalhostBlocked},
		{"https://printer.local/hook", ErrLocalhostBlocked},
		{"https://127.0.0.1/hook", ErrLocalhostBlocked},
		{"https://[::1]/hook", ErrLocalhostBlocked},
		{"https://hooks.example.com:8443/hook", ErrInvalidPort},
		{"https://192.168.1.10/hook", ErrPrivateIP},
		{"https://0.0.0.0/hook", ErrPrivateIP},
		{"https://[fe80::1]/hook", ErrPrivateIP},
		{"https://internal.corp.test/hook", ErrPrivateIP},
		{"https://metadata.test/latest", ErrPrivateIP},
		{"https://cgnat.test/hook", ErrPrivateIP},
		{"https://ula.test/hook", ErrPrivateIP},
		{"https://mapped.test/hook", ErrPrivateIP},
		{"https://exa mple.com/%zz", ErrInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateTargetURL(context.Background(), tt.url)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDialGuard(t *testing.T) {
	tests := map[string]bool{
		"93.184.216.34:443":     true,
		"[2606:4700::1111]:443": true,
		"127.0.0.1:443":         false,
		"10.0.0.8:443":          false,
		"[::ffff:10.0.0.8]:443": false,
		"[fe80::1%eth0]:443":    false,
		"169.254.169.254:80":    false,
	}
	for addr, allowed := range tests {
		err := dialGuard("tcp", addr, nil)
		if (err == nil) != allowed {
			t.Errorf("dialGuard(%s) = %v, allowed want %v", addr, err, allowed)
		}
	}
	if err := dialGuard("tcp", "not-an-address", nil); err == nil {
		t.Error("unparseable dial address must be refused")
	}
}

func TestExtractHost(t *testing.T) {
	if got := ExtractHost("https://hooks.example.com:443/secret/path?token=x"); got != "hooks.example.com:443" {
		t.Errorf("ExtractHost = %q", got)
	}
	if got := ExtractHost("://bad"); got != "(invalid)" {
		t.Errorf("ExtractHost(invalid) = %q", got)
	}
}
