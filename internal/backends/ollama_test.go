package backends

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaBackend_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "llama3.2:3b", req["model"])
		assert.Equal(t, "hello", req["prompt"])
		assert.Equal(t, false, req["stream"])

		_, _ = w.Write([]byte(`{"response":"hi there","prompt_eval_count":12,"eval_count":4,"done":true}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "llama3.2:3b", time.Second)
	res, err := b.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, 4, res.Usage.CompletionTokens)
	assert.Equal(t, "llama3.2:3b", res.Model)
}

func TestOllamaBackend_MissingUsageEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"a reasonably sized answer for estimation","done":true}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "llama3.2:3b", time.Second)
	res, err := b.Generate(context.Background(), "what is up")
	require.NoError(t, err)
	assert.Greater(t, res.Usage.PromptTokens, 0)
	assert.Greater(t, res.Usage.CompletionTokens, 0)
}

func TestOllamaBackend_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "llama3.2:3b", time.Second)
	_, err := b.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOllamaBackend_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "llama3.2:3b", time.Second)
	_, err := b.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestOllamaBackend_ConnectionRefusedIsTransient(t *testing.T) {
	b := NewOllamaBackend("http://127.0.0.1:1", "llama3.2:3b", 200*time.Millisecond)
	_, err := b.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestEstimateTokens(t *testing.T) {
	n := EstimateTokens("gpt-4o", "the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)

	assert.Zero(t, EstimateTokens("gpt-4o", ""))

	// Unknown model falls back without erroring.
	assert.Greater(t, EstimateTokens("definitely-not-a-model", "some text here"), 0)
}
