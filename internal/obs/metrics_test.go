package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/events":                     "/v1/events",
		"/v1/events/abc":                 "/v1/events/:id",
		"/v1/events/abc/presence":        "/v1/events/:id/presence",
		"/v1/events/abc/positions":       "/v1/events/:id/positions",
		"/v1/invitations/xyz":            "/v1/invitations/:id",
		"/v1/notifications/xyz/read":     "/v1/notifications/:id/read",
		"/v1/location/ping":              "/v1/location/ping",
		"/v1/location/session?debug=1":   "/v1/location/session",
		"/v1/events/abc/positions?raw=1": "/v1/events/:id/positions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
