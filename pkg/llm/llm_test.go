package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/contracts"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.NotEmpty(t, req.Messages)

		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
			})
		}
	}))
}

func TestOpenAISuggest(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "button.submit")
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", "test-model")
	out, err := client.Suggest(context.Background(), Prompt{System: "sys", User: "fix this"})
	require.NoError(t, err)
	assert.Equal(t, "button.submit", out.Content)
}

func TestOpenAISuggestErrorStatus(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", "test-model")
	_, err := client.Suggest(context.Background(), Prompt{User: "fix this"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestSelectorSuggester(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "`[data-testid=\"login\"]`\n")
	defer srv.Close()

	s := NewSelectorSuggester(NewOpenAIClient(srv.URL, "test-key", "test-model"))
	selector, err := s.SuggestSelector(context.Background(), "#login-btn", contracts.ActionMetadata{
		ElementText: "Log in",
		TagName:     "button",
	})
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="login"]`, selector)
}

func TestSelectorSuggesterNilClient(t *testing.T) {
	s := NewSelectorSuggester(nil)
	_, err := s.SuggestSelector(context.Background(), "#x", contracts.ActionMetadata{})
	require.Error(t, err)
}

type failingClient struct{}

func (failingClient) Suggest(context.Context, Prompt) (*Suggestion, error) {
	return nil, errors.New("transport down")
}

func TestSelectorSuggesterClientError(t *testing.T) {
	s := NewSelectorSuggester(failingClient{})
	_, err := s.SuggestSelector(context.Background(), "#x", contracts.ActionMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggest selector")
}
