//go:build e2e

package e2e_test

import (
	"net/http"
	"os"
	"time"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func baseURL() string { return getenv("BASE_URL", "http://localhost:8080") }

func newClient() *http.Client { return &http.Client{Timeout: 15 * time.Second} }

// requireServerUp skips the test when the control surface isn't reachable,
// matching how the rest of the pack gates live E2E runs on an available
// dependency instead of failing hard.
func requireServerUp(client *http.Client) bool {
	resp, err := client.Get(baseURL() + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
