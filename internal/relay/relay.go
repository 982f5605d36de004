// Package relay owns the per-session in-memory state used while
// actively chatting: it persists user messages, invokes the agent,
// translates the agent's event stream into session events, persists
// completed assistant messages, and republishes everything through the
// event broker.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/events"
	"github.com/parley-dev/parley/internal/models"
	"github.com/parley-dev/parley/internal/store"
)

// managedSession is the ephemeral, process-lifetime mirror of one
// session. The message history is a prefix-consistent projection of the
// persisted log at load time plus anything appended since.
type managedSession struct {
	history    []agent.TextMessage
	processing bool
	cancel     context.CancelFunc
	streamBuf  strings.Builder
}

// Options configures a Relay.
type Options struct {
	// ModelFunc resolves the model per send, so runtime config changes
	// take effect without a restart. Optional.
	ModelFunc func() string
	// System is the system prompt sent with every request. Optional.
	System string
}

// Relay coordinates message sending and event relaying for all
// sessions. Each session's mutations are confined to its own record;
// the map itself is guarded by mu.
type Relay struct {
	store  store.Store
	broker *events.Broker
	agent  agent.Agent
	opts   Options

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// New creates a Relay.
func New(s store.Store, b *events.Broker, a agent.Agent, opts Options) *Relay {
	return &Relay{
		store:    s,
		broker:   b,
		agent:    a,
		opts:     opts,
		sessions: make(map[string]*managedSession),
	}
}

// ensureLocked returns the managed session, loading its mirror from the
// store on first access. Caller holds r.mu.
func (r *Relay) ensureLocked(sessionID string) (*managedSession, error) {
	if ms, ok := r.sessions[sessionID]; ok {
		return ms, nil
	}

	loaded, err := r.store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}

	ms := &managedSession{}
	for _, m := range loaded.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		ms.history = append(ms.history, agent.TextMessage{Role: m.Role, Content: m.Content})
	}
	r.sessions[sessionID] = ms
	return ms, nil
}

// IsProcessing reports whether the session has an in-flight turn.
func (r *Relay) IsProcessing(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.sessions[sessionID]
	return ok && ms.processing
}

// StreamingText returns the assistant text accumulated so far in the
// in-flight turn, so subscribers that attach mid-turn can catch up on
// the deltas they missed. Empty when the session is idle.
func (r *Relay) StreamingText(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	return ms.streamBuf.String()
}

// SendMessage accepts a user message and starts consuming the agent's
// stream asynchronously. It returns started=false with an error event
// published when the session is already processing; the in-flight turn
// is not disturbed. The call returns as soon as the turn is started.
func (r *Relay) SendMessage(_ context.Context, sessionID, text string) (bool, error) {
	r.mu.Lock()
	ms, err := r.ensureLocked(sessionID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}

	if ms.processing {
		r.mu.Unlock()
		r.broker.Publish(events.Event{
			Type:      events.TypeError,
			SessionID: sessionID,
			Error:     "Already processing a message",
		})
		return false, nil
	}

	userMsg := models.Message{
		ID:        models.NewID(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(sessionID, userMsg); err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("persist user message: %w", err)
	}

	ms.history = append(ms.history, agent.TextMessage{Role: models.RoleUser, Content: text})
	ms.processing = true

	// The turn outlives the initiating request; cancellation comes from
	// CancelProcessing, not from the caller's context.
	turnCtx, cancel := context.WithCancel(context.Background())
	ms.cancel = cancel

	req := agent.Request{
		System:   r.opts.System,
		Messages: append([]agent.TextMessage(nil), ms.history...),
	}
	if r.opts.ModelFunc != nil {
		req.Model = r.opts.ModelFunc()
	}
	r.mu.Unlock()

	r.broker.Publish(events.Event{
		Type:      events.TypeUserMessage,
		SessionID: sessionID,
		Message:   &userMsg,
	})

	go r.consume(turnCtx, sessionID, req)
	return true, nil
}

// CancelProcessing signals the session's in-flight turn to stop. It is
// cooperative: the relay loop notices between agent events.
func (r *Relay) CancelProcessing(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.sessions[sessionID]
	if !ok || ms.cancel == nil {
		return false
	}
	ms.cancel()
	return true
}

// consume drives one turn: it reads the agent's stream, translates each
// event, persists completed assistant text, and always unwinds the
// session back to idle through exactly one of the three terminal
// routes (complete, interrupted, error).
func (r *Relay) consume(ctx context.Context, sessionID string, req agent.Request) {
	defer r.finish(sessionID)

	stream, err := r.agent.Stream(ctx, req)
	if err != nil {
		r.publishFailure(sessionID, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.broker.Publish(events.Event{Type: events.TypeInterrupted, SessionID: sessionID})
			return
		case ev, ok := <-stream:
			if !ok {
				// Cancelling the turn context is what makes the SDK end
				// the stream, so a close after cancel is an interruption,
				// not a completion.
				if ctx.Err() != nil {
					r.broker.Publish(events.Event{Type: events.TypeInterrupted, SessionID: sessionID})
					return
				}
				r.broker.Publish(events.Event{Type: events.TypeComplete, SessionID: sessionID})
				return
			}
			// Cancellation is checked once per received event.
			if ctx.Err() != nil {
				r.broker.Publish(events.Event{Type: events.TypeInterrupted, SessionID: sessionID})
				return
			}
			r.handleAgentEvent(sessionID, ev)
		}
	}
}

// handleAgentEvent maps one agent event to its outward session event,
// persisting where required.
func (r *Relay) handleAgentEvent(sessionID string, ev agent.Event) {
	switch ev.Type {
	case agent.EventTurnStart:
		r.broker.Publish(events.Event{Type: events.TypeTurnStart, SessionID: sessionID})

	case agent.EventTextDelta:
		r.mu.Lock()
		if ms, ok := r.sessions[sessionID]; ok {
			ms.streamBuf.WriteString(ev.Text)
		}
		r.mu.Unlock()
		r.broker.Publish(events.Event{Type: events.TypeTextDelta, SessionID: sessionID, Text: ev.Text})

	case agent.EventTextComplete:
		if ev.Intermediate {
			// Relayed for display but not persisted as a standalone
			// message; the turn continues with tool calls.
			r.broker.Publish(events.Event{
				Type:           events.TypeTextComplete,
				SessionID:      sessionID,
				Text:           ev.Text,
				IsIntermediate: true,
			})
			return
		}

		assistantMsg := models.Message{
			ID:        models.NewID(),
			Role:      models.RoleAssistant,
			Content:   ev.Text,
			Timestamp: time.Now().UTC(),
		}
		if err := r.store.AppendMessage(sessionID, assistantMsg); err != nil {
			slog.Error("persisting assistant message failed", "session", sessionID, "error", err)
			r.broker.Publish(events.Event{
				Type:      events.TypeError,
				SessionID: sessionID,
				Error:     fmt.Sprintf("persist assistant message: %v", err),
			})
			return
		}

		r.mu.Lock()
		if ms, ok := r.sessions[sessionID]; ok {
			ms.history = append(ms.history, agent.TextMessage{Role: models.RoleAssistant, Content: ev.Text})
		}
		r.mu.Unlock()

		r.broker.Publish(events.Event{
			Type:      events.TypeTextComplete,
			SessionID: sessionID,
			Text:      ev.Text,
			Message:   &assistantMsg,
		})

	case agent.EventToolStart:
		r.broker.Publish(events.Event{
			Type:       events.TypeToolStart,
			SessionID:  sessionID,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			ToolInput:  ev.ToolInput,
		})

	case agent.EventToolResult:
		r.broker.Publish(events.Event{
			Type:           events.TypeToolResult,
			SessionID:      sessionID,
			ToolCallID:     ev.ToolCallID,
			ToolResult:     ev.Result,
			ToolIsError:    ev.IsError,
			ToolDurationMS: ev.DurationMS,
		})

	case agent.EventInfo:
		r.broker.Publish(events.Event{Type: events.TypeInfo, SessionID: sessionID, Text: ev.Message})

	case agent.EventError:
		r.broker.Publish(events.Event{
			Type:      events.TypeError,
			SessionID: sessionID,
			Error:     ev.Err.Error(),
		})

	case agent.EventTurnEnd:
		if ev.Usage != nil {
			r.accumulateUsage(sessionID, ev.Usage)
		}
		r.broker.Publish(events.Event{Type: events.TypeTurnEnd, SessionID: sessionID, Usage: ev.Usage})

	case agent.EventDone:
		// Stream close follows; completion is published there.
	}
}

// accumulateUsage folds a turn's token counters into the session
// metadata.
func (r *Relay) accumulateUsage(sessionID string, usage *models.TokenUsage) {
	loaded, err := r.store.LoadSession(sessionID)
	if err != nil {
		return
	}
	total := models.TokenUsage{}
	if loaded.Usage != nil {
		total = *loaded.Usage
	}
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens

	if _, err := r.store.UpdateSession(sessionID, store.SessionUpdate{Usage: &total}); err != nil {
		slog.Warn("updating session usage failed", "session", sessionID, "error", err)
	}
}

// publishFailure reports a failed turn: an error event followed by a
// completion event, so the UI state machine always returns to idle.
func (r *Relay) publishFailure(sessionID string, err error) {
	r.broker.Publish(events.Event{
		Type:      events.TypeError,
		SessionID: sessionID,
		Error:     err.Error(),
	})
	r.broker.Publish(events.Event{Type: events.TypeComplete, SessionID: sessionID})
}

// finish unwinds the session to idle: processing flag cleared, cancel
// handle dropped, streaming buffer reset.
func (r *Relay) finish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	ms.processing = false
	if ms.cancel != nil {
		ms.cancel()
		ms.cancel = nil
	}
	ms.streamBuf.Reset()
}
