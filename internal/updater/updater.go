// Package updater checks GitHub for newer megamemory releases. The check
// is best-effort and non-blocking: it runs in a goroutine during "serve"
// and prints a stderr notice at most. It never interferes with the stdio
// transport and never fails the server.
package updater

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	githubRepo = "HendryAvila/megamemory"
	releaseURL = "https://api.github.com/repos/" + githubRepo + "/releases/latest"

	checkTimeout = 10 * time.Second
)

// For testing: allow overriding the release URL and HTTP client.
var (
	releaseEndpoint = releaseURL
	httpClient      = &http.Client{Timeout: checkTimeout}
)

// Result communicates the outcome of a version check.
type Result struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
}

type releaseInfo struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckVersion queries GitHub for the latest release and compares it
// against the running version. Network failures are silently ignored —
// the Result then carries only CurrentVersion and reports no update.
func CheckVersion(currentVersion string) *Result {
	result := &Result{CurrentVersion: normalize(currentVersion)}

	req, err := http.NewRequest("GET", releaseEndpoint, nil)
	if err != nil {
		return result
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "megamemory/"+currentVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result
	}

	var release releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return result
	}

	result.LatestVersion = normalize(release.TagName)
	result.ReleaseURL = release.HTMLURL
	result.UpdateAvailable = isNewer(result.CurrentVersion, result.LatestVersion)
	return result
}

// normalize strips a leading "v" so tags and build versions compare.
func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewer compares dotted version strings numerically, segment by
// segment. Non-numeric segments (e.g. "dev") never trigger an update.
func isNewer(current, latest string) bool {
	if current == "" || latest == "" || current == "dev" {
		return false
	}
	cur := strings.Split(current, ".")
	lat := strings.Split(latest, ".")
	for i := 0; i < len(cur) || i < len(lat); i++ {
		c, l := 0, 0
		var err error
		if i < len(cur) {
			if c, err = strconv.Atoi(cur[i]); err != nil {
				return false
			}
		}
		if i < len(lat) {
			if l, err = strconv.Atoi(lat[i]); err != nil {
				return false
			}
		}
		if l != c {
			return l > c
		}
	}
	return false
}
