// Package provider streams chat completions from an OpenAI-compatible
// inference API (OpenRouter by default).
package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"relaychat/internal/models"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Provider opens a completion stream for a conversation.
type Provider interface {
	Stream(ctx context.Context, messages []models.Message) (Stream, error)
}

// Stream yields generated text fragments in order and io.EOF when done.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Options struct {
	BaseURL  string
	APIKey   string
	Model    string
	SiteURL  string
	SiteName string
	// HTTPClient is used as-is when set; attribution headers are then the caller's job.
	HTTPClient *http.Client
}

// OpenRouter talks to OpenRouter's OpenAI-compatible chat completions endpoint.
type OpenRouter struct {
	client *openai.Client
	model  string
}

func NewOpenRouter(opts Options) (*OpenRouter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("model is required")
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	cfg.BaseURL = DefaultBaseURL
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{
			Transport: &attributionTransport{
				base:     http.DefaultTransport,
				siteURL:  opts.SiteURL,
				siteName: opts.SiteName,
			},
		}
	}

	return &OpenRouter{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}, nil
}

func (p *OpenRouter) Model() string {
	return p.model
}

// Stream sends the whole conversation as context. No system prompt and no
// sampling parameters are set, the provider defaults apply.
func (p *OpenRouter) Stream(ctx context.Context, messages []models.Message) (Stream, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	s, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "creating completion stream")
	}
	return &completionStream{stream: s}, nil
}

type completionStream struct {
	stream *openai.ChatCompletionStream
}

func (s *completionStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrap(err, "receiving completion chunk")
		}
		var b strings.Builder
		for _, choice := range resp.Choices {
			b.WriteString(choice.Delta.Content)
		}
		// Role-only and usage chunks carry no text.
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
}

func (s *completionStream) Close() error {
	s.stream.Close()
	return nil
}

type attributionTransport struct {
	base     http.RoundTripper
	siteURL  string
	siteName string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.siteURL == "" && t.siteName == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.siteURL != "" {
		req.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.siteName != "" {
		req.Header.Set("X-Title", t.siteName)
	}
	return t.base.RoundTrip(req)
}
