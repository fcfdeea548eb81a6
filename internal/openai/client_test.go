// ABOUTME: Tests for the OpenAI client against an httptest server
// ABOUTME: Covers request shapes, error envelopes and kind mapping

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/todovex/internal/apperr"
)

func newTestClient(t *testing.T, dims int, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Dimensions: dims})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestChat_RequestShape(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"todos\":[]}"}}]}`))
	})

	content, err := c.Chat(context.Background(), ChatRequest{System: "sys", User: "usr", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"todos":[]}`, content)

	assert.Equal(t, DefaultChatModel, got["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "usr", msgs[1].(map[string]any)["content"])
}

func TestChat_NoChoices(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	content, err := c.Chat(context.Background(), ChatRequest{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, 3, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Write tests", body["input"])
		assert.Equal(t, DefaultEmbeddingModel, body["model"])
		assert.Equal(t, "float", body["encoding_format"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := c.Embed(context.Background(), "Write tests")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name     string
		dims     int
		status   int
		body     string
		wantKind apperr.Kind
		wantMsg  string
	}{
		{"server error envelope", 0, http.StatusInternalServerError, `{"error":{"message":"boom"}}`, apperr.Upstream, "boom"},
		{"plain text error", 0, http.StatusBadGateway, `upstream down`, apperr.Upstream, "upstream down"},
		{"context length", 0, http.StatusBadRequest, `{"error":{"message":"too long","code":"context_length_exceeded"}}`, apperr.ContextLength, "too long"},
		{"bad key", 0, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, apperr.Configuration, "Incorrect API key"},
		{"empty data", 0, http.StatusOK, `{"data":[]}`, apperr.Upstream, "no embedding"},
		{"malformed", 0, http.StatusOK, `{"data":`, apperr.Upstream, "decode response"},
		{"wrong dimensions", 2, http.StatusOK, `{"data":[{"embedding":[1,2,3]}]}`, apperr.Upstream, "expected 2 dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.dims, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Embed(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err), "error: %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestEmbed_ContextCanceled(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
