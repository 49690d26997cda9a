package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgefix/internal/faults"
)

func anthropicOK(text string) string {
	resp := map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
		"usage":   map[string]int{"input_tokens": 120, "output_tokens": 45},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func openAIOK(text string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": text}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 80, "completion_tokens": 30},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:     "test-key",
		Model:      "test-model",
		BaseURL:    baseURL,
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	}
}

func TestAnthropic_Complete_Success(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(anthropicOK(`{"ok": true}`)))
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	resp, err := c.Complete(context.Background(), Request{
		System: "be terse",
		User:   "diagnose this",
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, resp.Text)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 45, resp.OutputTokens)

	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "be terse", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "diagnose this", gotReq.Messages[0].Content)
	assert.Equal(t, 8192, gotReq.MaxTokens)
	assert.InDelta(t, 0.3, gotReq.Temperature, 1e-9)
}

func TestAnthropic_Complete_RequestOverrides(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(anthropicOK("ok")))
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), Request{
		User:        "x",
		MaxTokens:   512,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, 512, gotReq.MaxTokens)
	assert.InDelta(t, 0.7, gotReq.Temperature, 1e-9)
}

func TestAnthropic_Complete_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(anthropicOK("recovered")))
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	resp, err := c.Complete(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropic_Complete_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.BackendUnavailable))
	assert.Equal(t, int32(2), calls.Load()) // initial attempt + 1 retry
}

func TestAnthropic_Complete_BadRequestFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad schema"}}`))
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.BackendUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic_Complete_MissingKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	c := NewAnthropic(cfg, nil)
	_, err := c.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.BackendUnavailable))
}

func TestAnthropic_Complete_Cancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so net/http can detect the client disconnect and
		// cancel the request context; otherwise Close waits forever.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewAnthropic(testConfig(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Complete(ctx, Request{User: "x"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Cancelled), "got %v", err)
}

func TestOpenAI_Complete_Success(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(openAIOK("fixed it")))
	}))
	defer srv.Close()

	c := NewOpenAI(testConfig(srv.URL), nil)
	resp, err := c.Complete(context.Background(), Request{
		System: "be terse",
		User:   "diagnose this",
	})
	require.NoError(t, err)

	assert.Equal(t, "fixed it", resp.Text)
	assert.Equal(t, 80, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestOpenAI_Complete_OmitsEmptySystem(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(openAIOK("ok")))
	}))
	defer srv.Close()

	c := NewOpenAI(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), Request{User: "just this"})
	require.NoError(t, err)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestOpenAI_Complete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.BackendUnavailable))
}

func TestNew_SelectsProvider(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, Config{Provider: "anthropic", APIKey: "k"}, nil)
	require.NoError(t, err)
	_, ok := c.(*Anthropic)
	assert.True(t, ok)
	assert.Equal(t, "claude-sonnet-4-5", c.Model())

	c, err = New(ctx, Config{Provider: "openai", APIKey: "k"}, nil)
	require.NoError(t, err)
	_, ok = c.(*OpenAI)
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o", c.Model())
}

func TestNew_CustomEndpointFallsBackToOpenAI(t *testing.T) {
	c, err := New(context.Background(), Config{
		Provider: "llamacpp",
		APIKey:   "k",
		Model:    "local-model",
		BaseURL:  "http://localhost:8080/v1",
	}, nil)
	require.NoError(t, err)
	_, ok := c.(*OpenAI)
	assert.True(t, ok)
	assert.Equal(t, "local-model", c.Model())
}

func TestNew_UnknownProviderWithoutEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "mystery", APIKey: "k"}, nil)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.InputInvalid))
}
