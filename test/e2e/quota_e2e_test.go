//go:build e2e

package e2e_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestE2E_QuotaStatus exercises GET /v1/quota (spec.md §6 "query quota
// status"). It requires no seeded state: the endpoint reports usage for
// every model in the configured tier, zero or not.
func TestE2E_QuotaStatus(t *testing.T) {
	t.Parallel()
	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	resp, err := client.Get(baseURL() + "/v1/quota")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["tier"])
	models, ok := body["models"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, models)
	first, ok := models[0].(map[string]any)
	require.True(t, ok)
	require.Contains(t, first, "model")
	require.Contains(t, first, "rpm")
	require.Contains(t, first, "overloaded")
}
