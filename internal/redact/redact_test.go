package redact

import (
	"strings"
	"testing"
)

func TestStringRedaction(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		disallow []string
		require  []string
	}{
		{
			name:     "bearer header",
			input:    "Authorization: Bearer sk-secret-123",
			disallow: []string{"sk-secret-123"},
			require:  []string{"[REDACTED]"},
		},
		{
			name:     "webhook header",
			input:    "headers=map[X-Webhook-Secret: hook-secret-99]",
			disallow: []string{"hook-secret-99"},
			require:  []string{"X-Webhook-Secret: [REDACTED]"},
		},
		{
			name:     "sqlite dsn password",
			input:    "dsn=file:audit.db?_auth&_auth_user=admin&_auth_pass=hunter2",
			disallow: []string{"hunter2"},
			require:  []string{"_auth_pass=[REDACTED]", "_auth_user=admin"},
		},
		{
			name:     "webhook url",
			input:    "url=https://audit.example.com/hooks/team-a/receive?sig=abc123",
			disallow: []string{"team-a", "sig=abc123"},
			require:  []string{"https://audit.example.com/receive"},
		},
		{
			name:     "mixed token",
			input:    "Bearer abc api_key=supersecret token=anotherone base=https://hooks.example.test/files/base/",
			disallow: []string{"abc", "supersecret", "anotherone", "files/base/"},
			require:  []string{"[REDACTED]", "https://hooks.example.test/[REDACTED_PATH]"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := String(tc.input)
			for _, bad := range tc.disallow {
				if bad != "" && contains(out, bad) {
					t.Fatalf("output still contains %q: %s", bad, out)
				}
			}
			for _, want := range tc.require {
				if want == "" {
					continue
				}
				if !contains(out, want) {
					t.Fatalf("output missing required substring %q: %s", want, out)
				}
			}
		})
	}
}

func TestURL(t *testing.T) {
	if got := URL("https://audit.example.com/a/b/hook?x=1"); got != "https://audit.example.com/hook" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := URL("not a url"); got != "[REDACTED_URL]" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := URL(""); got != "" {
		t.Fatalf("empty input should stay empty, got %q", got)
	}
}

func contains(s, sub string) bool {
	return s != "" && sub != "" && strings.Contains(s, sub)
}
