package ai

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

	"wagateway/internal/config"
	"wagateway/internal/store"
)

func testClient(baseURL string) *Client {
	return NewClient(config.OpenAIConfig{
		APIKey:       "sk-test",
		BaseURL:      baseURL,
		Model:        "gpt-3.5-turbo",
		SystemPrompt: "You are a helpful assistant.",
		MaxTokens:    1000,
		Temperature:  0.7,
		Timeout:      5 * time.Second,
	}, nil)
}

func completionOK(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestReply_BuildsPromptFromHistory(t *testing.T) {
	var gotReq chatCompletionRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionOK("Sure, happy to help.")))
	}))
	t.Cleanup(srv.Close)

	history := []*store.Message{
		{Role: store.RoleUser, Content: "hi"},
		{Role: store.RoleAssistant, Content: "hello!"},
	}

	reply, err := testClient(srv.URL).Reply(context.Background(), history, "can you help?")
	require.NoError(t, err)
	assert.Equal(t, "Sure, happy to help.", reply)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-3.5-turbo", gotReq.Model)
	assert.Equal(t, 1000, gotReq.MaxTokens)

	// system prompt, two history turns, then the new user turn
	require.Len(t, gotReq.Messages, 4)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant.", gotReq.Messages[0].Content)
	assert.Equal(t, store.RoleUser, gotReq.Messages[1].Role)
	assert.Equal(t, "hi", gotReq.Messages[1].Content)
	assert.Equal(t, store.RoleAssistant, gotReq.Messages[2].Role)
	assert.Equal(t, store.RoleUser, gotReq.Messages[3].Role)
	assert.Equal(t, "can you help?", gotReq.Messages[3].Content)
}

func TestReply_TrimsWhitespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionOK("\n  trimmed reply  \n")))
	}))
	t.Cleanup(srv.Close)

	reply, err := testClient(srv.URL).Reply(context.Background(), nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "trimmed reply", reply)
}

func TestReply_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := testClient(srv.URL).Reply(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "Rate limit reached")
}

func TestReply_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := testClient(srv.URL).Reply(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestReply_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionOK("   ")))
	}))
	t.Cleanup(srv.Close)

	_, err := testClient(srv.URL).Reply(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty reply content")
}

func TestReply_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise the context is never
		// cancelled and srv.Close deadlocks in cleanup.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(srv.URL).Reply(ctx, nil, "hi")
	require.Error(t, err)
}
