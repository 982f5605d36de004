package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/parley-dev/parley/internal/models"
)

// ErrNoCredentials is returned when no API credential is configured.
var ErrNoCredentials = errors.New("no agent credentials configured")

const defaultMaxTokens = 4096

// Options configures the Anthropic client. APIKey is resolved per call
// so credentials saved at runtime take effect without a restart.
type Options struct {
	APIKey       func() (string, error)
	BaseURL      func() string
	DefaultModel string
	MaxTokens    int
}

// Anthropic implements Agent on the Anthropic Messages streaming API.
type Anthropic struct {
	opts Options
}

// NewAnthropic creates the Anthropic agent client.
func NewAnthropic(opts Options) *Anthropic {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Anthropic{opts: opts}
}

// Stream starts a streaming completion and translates SDK events into
// agent events. The returned channel is closed when the turn ends.
func (a *Anthropic) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if a.opts.APIKey == nil {
		return nil, ErrNoCredentials
	}
	apiKey, err := a.opts.APIKey()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, ErrNoCredentials
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if a.opts.BaseURL != nil {
		if base := a.opts.BaseURL(); base != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(base))
		}
	}
	client := anthropic.NewClient(clientOpts...)

	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		a.consume(ctx, &client, params, ch)
	}()
	return ch, nil
}

func (a *Anthropic) buildParams(req Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.opts.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// Tool/error/warning records are local bookkeeping, not part
			// of the model-visible history.
		}
	}
	if len(params.Messages) == 0 {
		return params, fmt.Errorf("empty message history")
	}
	return params, nil
}

func (a *Anthropic) consume(ctx context.Context, client *anthropic.Client, params anthropic.MessageNewParams, ch chan<- Event) {
	ch <- Event{Type: EventTurnStart}

	stream := client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			ch <- Event{Type: EventError, Err: fmt.Errorf("accumulate stream event: %w", err)}
			return
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ch <- Event{Type: EventTextDelta, Text: delta.Text}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-stream; the relay already handles the
			// interruption, so just end the stream.
			return
		}
		ch <- Event{Type: EventError, Err: fmt.Errorf("agent stream: %w", err)}
		return
	}

	// Text completed before a tool_use stop is intermediate: the turn
	// would continue with tool calls, so it is not a final message.
	intermediate := message.StopReason == anthropic.StopReasonToolUse

	for _, block := range message.Content {
		switch blockVariant := block.AsAny().(type) {
		case anthropic.TextBlock:
			ch <- Event{Type: EventTextComplete, Text: blockVariant.Text, Intermediate: intermediate}
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(blockVariant.Input)
			ch <- Event{
				Type:       EventToolStart,
				ToolName:   blockVariant.Name,
				ToolCallID: blockVariant.ID,
				ToolInput:  string(input),
			}
		}
	}

	ch <- Event{Type: EventTurnEnd, Usage: &models.TokenUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}}
	ch <- Event{Type: EventDone}
}
