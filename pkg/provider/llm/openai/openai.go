// Package openai implements [llm.Provider] on the OpenAI chat completions
// API. Replies stream token-by-token so the sentence splitter can hand text
// to TTS before the model has finished thinking.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/callyx/callyx/pkg/provider/llm"
	"github.com/callyx/callyx/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider streams chat completions from OpenAI with one default model.
type Provider struct {
	client oai.Client
	model  string

	reqOpts []option.RequestOption
}

// Option adjusts a Provider during construction.
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible server instead of
// api.openai.com.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
	}
}

// WithOrganization attaches an OpenAI organization ID to every request.
func WithOrganization(org string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithOrganization(org))
	}
}

// WithTimeout caps each HTTP round trip. For streaming this bounds the
// whole response, so leave headroom for long replies.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New builds a Provider. Both apiKey and model are required; the model can
// still be overridden per request.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	p := &Provider{
		model:   model,
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// StreamCompletion starts a completion and returns its chunk channel. Stop
// sequences are enforced client-side with a StopScanner: when one is hit
// the stream ends with a "stop" chunk and the rest of the SDK stream is
// discarded.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.chatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := llm.NewStopScanner(req.StopSequences)

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			text, stopped := scanner.Feed(choice.Delta.Content)
			if stopped {
				if text != "" && !send(llm.Chunk{Text: text}) {
					return
				}
				send(llm.Chunk{FinishReason: "stop"})
				return
			}
			if choice.FinishReason != "" {
				text += scanner.Flush()
				send(llm.Chunk{Text: text, FinishReason: choice.FinishReason})
				continue
			}
			if text != "" && !send(llm.Chunk{Text: text}) {
				return
			}
		}

		if tail := scanner.Flush(); tail != "" && !send(llm.Chunk{Text: tail}) {
			return
		}

		if err := stream.Err(); err != nil {
			send(llm.Chunk{FinishReason: "error", Text: err.Error()})
		}
	}()

	return ch, nil
}

// chatParams renders one CompletionRequest into SDK params. The system
// prompt leads the message list; a request-level model wins over the
// provider default.
func (p *Provider) chatParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		u, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, u)
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

// toParam maps one conversation message onto the SDK's role-specific
// constructors.
func toParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
