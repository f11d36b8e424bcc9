//go:build e2e

package e2e_test

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestE2E_Discover exercises POST /v1/channels/{id}/discover against a
// channel already seeded in the target database (spec.md §6 "enqueue a
// discovery for a channel"). It requires TEST_CHANNEL_ID since this suite
// has no seeding endpoint of its own.
func TestE2E_Discover(t *testing.T) {
	t.Parallel()
	channelID := os.Getenv("TEST_CHANNEL_ID")
	if channelID == "" {
		t.Skip("TEST_CHANNEL_ID not set; skipping")
	}

	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	req, err := http.NewRequest(http.MethodPost, baseURL()+"/v1/channels/"+channelID+"/discover", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["success"])
	require.Equal(t, channelID, body["channelId"])
}

func TestE2E_Discover_UnknownChannel(t *testing.T) {
	t.Parallel()
	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	req, err := http.NewRequest(http.MethodPost, baseURL()+"/v1/channels/does-not-exist/discover", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
