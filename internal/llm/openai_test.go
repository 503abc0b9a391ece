package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIClient(config.LLM{BaseURL: server.URL, APIKey: "test", Model: "test-model"})
}

func TestOpenAIClient_Chat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"精简"}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	})

	resp, err := client.Chat(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "精简", resp.Content)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}, resp.Usage)
	assert.Equal(t, "test-model", client.Name())
}

func TestOpenAIClient_Chat_EmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","choices":[]}`)
	})

	_, err := client.Chat(context.Background(), "system", "user")
	assert.Error(t, err)
}

func TestOpenAIClient_Stream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"1","choices":[{"index":0,"delta":{"content":"第一"}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"content":"段"}}]}`,
			`{"id":"1","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), "system", "user")
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	var usage *Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sb.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	assert.Equal(t, "第一段", sb.String())
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.TotalTokens)
}

func TestOpenAIClient_Stream_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	})

	_, err := client.Stream(context.Background(), "system", "user")
	assert.Error(t, err)
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMillion: 2, OutputPerMillion: 3}

	cost := p.Cost(Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})

	assert.InDelta(t, 2.0, cost.Input, 1e-9)
	assert.InDelta(t, 1.5, cost.Output, 1e-9)
	assert.InDelta(t, 3.5, cost.Total, 1e-9)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 33.33, Round2(100.0/3))
	assert.Equal(t, 66.67, Round2(200.0/3))
	assert.Equal(t, 50.0, Round2(50))
}
