package updater

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func withFakeRelease(t *testing.T, status int, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	oldEndpoint, oldClient := releaseEndpoint, httpClient
	releaseEndpoint = srv.URL
	httpClient = srv.Client()
	t.Cleanup(func() {
		releaseEndpoint = oldEndpoint
		httpClient = oldClient
	})
}

func TestCheckVersionUpdateAvailable(t *testing.T) {
	withFakeRelease(t, http.StatusOK,
		`{"tag_name":"v0.3.0","html_url":"https://example.com/rel"}`)

	res := CheckVersion("0.2.0")
	if !res.UpdateAvailable {
		t.Error("update should be available for 0.2.0 -> 0.3.0")
	}
	if res.LatestVersion != "0.3.0" {
		t.Errorf("latest = %q, want 0.3.0", res.LatestVersion)
	}
	if res.ReleaseURL != "https://example.com/rel" {
		t.Errorf("release url = %q", res.ReleaseURL)
	}
}

func TestCheckVersionUpToDate(t *testing.T) {
	withFakeRelease(t, http.StatusOK, `{"tag_name":"v0.2.0"}`)

	if res := CheckVersion("0.2.0"); res.UpdateAvailable {
		t.Error("same version should not report an update")
	}
}

func TestCheckVersionNetworkFailureIsSilent(t *testing.T) {
	withFakeRelease(t, http.StatusInternalServerError, ``)

	res := CheckVersion("0.2.0")
	if res.UpdateAvailable {
		t.Error("server error should report no update")
	}
	if res.CurrentVersion != "0.2.0" {
		t.Errorf("current = %q", res.CurrentVersion)
	}
}

func TestIsNewer(t *testing.T) {
	cases := []struct {
		current, latest string
		want            bool
	}{
		{"0.2.0", "0.3.0", true},
		{"0.2.0", "0.2.1", true},
		{"0.2.0", "0.2.0", false},
		{"0.3.0", "0.2.9", false},
		{"0.9.0", "0.10.0", true},
		{"1.0", "1.0.1", true},
		{"dev", "0.3.0", false},
		{"", "0.3.0", false},
		{"0.2.0", "", false},
	}
	for _, c := range cases {
		if got := isNewer(c.current, c.latest); got != c.want {
			t.Errorf("isNewer(%q, %q) = %v, want %v", c.current, c.latest, got, c.want)
		}
	}
}
