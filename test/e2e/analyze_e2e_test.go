//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestE2E_Analyze exercises POST /v1/content/{id}/analyze against a content
// already in METADATA_READY (spec.md §6 "enqueue an analysis for a
// content"). Requires TEST_CONTENT_ID_READY since this suite has no
// seeding endpoint of its own.
func TestE2E_Analyze(t *testing.T) {
	t.Parallel()
	contentID := os.Getenv("TEST_CONTENT_ID_READY")
	if contentID == "" {
		t.Skip("TEST_CONTENT_ID_READY not set; skipping")
	}

	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	resp, err := client.Post(baseURL()+"/v1/content/"+contentID+"/analyze", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["success"])
	require.Equal(t, contentID, body["contentId"])
}

func TestE2E_Analyze_UnknownContent(t *testing.T) {
	t.Parallel()
	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	resp, err := client.Post(baseURL()+"/v1/content/does-not-exist/analyze", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestE2E_Analyze_RejectsNonJSONAccept(t *testing.T) {
	t.Parallel()
	client := newClient()
	if !requireServerUp(client) {
		t.Skip("control surface not available; skipping")
	}

	req, err := http.NewRequest(http.MethodPost, baseURL()+"/v1/content/does-not-exist/analyze", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEqual(t, http.StatusAccepted, resp.StatusCode)
}
