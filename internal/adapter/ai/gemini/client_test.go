package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

func TestGenerateStructured_StreamsChunksAndFinishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"{\\\"a\\\":1}\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"\"}]},\"finishReason\":\"STOP\"}]}\n\n"))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	stream, err := c.GenerateStructured(context.Background(), "gemini-2.5-flash", []string{"hello"}, domain.GenerationConfig{MaxOutputTokens: 100})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer stream.Close()

	chunk1, done1, err := stream.Next()
	if err != nil || done1 || chunk1 != `{"a":1}` {
		t.Fatalf("unexpected first chunk: %q done=%v err=%v", chunk1, done1, err)
	}
	_, done2, err := stream.Next()
	if err != nil || !done2 {
		t.Fatalf("expected finished stream, got done=%v err=%v", done2, err)
	}
}

func TestGenerateStructured_ErrorResponseClassifiable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Resource exhausted: requests per minute"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.GenerateStructured(context.Background(), "gemini-2.5-pro", []string{"hello"}, domain.GenerationConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := quota.AsProviderError("gemini-2.5-pro", err)
	if !ok {
		t.Fatalf("expected a classifiable provider error, got %v", err)
	}
	cls := quota.ClassifyProviderError(pe)
	if cls.Kind != quota.ClassQuota {
		t.Fatalf("expected quota classification, got %v", cls.Kind)
	}
}
