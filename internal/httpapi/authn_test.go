package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def", "abc.def", false},
		{"bearer abc.def", "abc.def", false},
		{"  Bearer   abc.def  ", "abc.def", false},
		{"", "", true},
		{"Bearer ", "", true},
		{"Basic abc", "", true},
		{"abc.def", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("extractBearerToken(%q) expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractBearerToken(%q): %v", tc.header, err)
			continue
		}
		if got != tc.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/v1/auth/register", "/v1/auth/login", "/healthz", "/readyz", "/metrics", "/openapi.yaml", "/v1/info", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	private := []string{"/v1/users", "/v1/users/me", "/v1/roles", "/v1/auth/sessions", "/v1/auth/logout"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}
