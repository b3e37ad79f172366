package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zeroveil/gateway/internal/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIOption configures the adapter.
type OpenAIOption func(*OpenAI)

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(a *OpenAI) {
		a.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(a *OpenAI) {
		a.httpClient = client
	}
}

// OpenAI dispatches to any OpenAI-compatible chat completions endpoint. The
// credential reference names an entry in the shared-identity credential set;
// the upstream never sees a tenant-specific key.
type OpenAI struct {
	name        string
	baseURL     string
	credentials map[domain.CredentialRef]string
	httpClient  *http.Client
}

// NewOpenAI creates an adapter with the given credential set.
func NewOpenAI(name string, credentials map[domain.CredentialRef]string, opts ...OpenAIOption) *OpenAI {
	a := &OpenAI{
		name:        name,
		baseURL:     defaultOpenAIBaseURL,
		credentials: credentials,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements domain.ProviderAdapter.
func (a *OpenAI) Name() string {
	return a.name
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      domain.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

// Dispatch sends the request upstream. Network faults, timeouts, 429s and
// 5xx responses classify as transient; other non-200s are fatal.
func (a *OpenAI) Dispatch(ctx context.Context, req *domain.UpstreamRequest, credential domain.CredentialRef) (*domain.UpstreamResponse, error) {
	apiKey, ok := a.credentials[credential]
	if !ok {
		return nil, &domain.UpstreamError{
			Provider: a.name,
			Err:      fmt.Errorf("unknown credential reference %q", credential),
		}
	}

	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return nil, &domain.UpstreamError{Provider: a.name, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.UpstreamError{Provider: a.name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.UpstreamError{Provider: a.name, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Provider: a.name, Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &domain.UpstreamError{
			Provider:  a.name,
			Transient: transient,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("upstream status %d", resp.StatusCode),
		}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &domain.UpstreamError{Provider: a.name, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return nil, &domain.UpstreamError{Provider: a.name, Err: fmt.Errorf("upstream returned no choices")}
	}

	choice := result.Choices[0]
	return &domain.UpstreamResponse{
		ID:           result.ID,
		Model:        result.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        result.Usage,
	}, nil
}
