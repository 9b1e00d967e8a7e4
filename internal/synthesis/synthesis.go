// Package synthesis implements the streaming synthesis adapter: the stage
// that turns a guardrail-cleared result list into an LLM answer. It
// owns prompt assembly and citation numbering; the retrieval core
// guarantees everything it consumes is ACL-safe and that the guardrail
// decision is authoritative, so synthesis never re-checks either.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/memory"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/retrieval"
)

// EventKind tags a streamed synthesis event.
type EventKind string

const (
	EventChunk           EventKind = "chunk"
	EventCitations       EventKind = "citations"
	EventMetadata        EventKind = "metadata"
	EventFormattedAnswer EventKind = "formatted_answer"
	EventError           EventKind = "error"
	EventDone            EventKind = "done"
)

// DefaultSystemPrompt is used when a tenant does not override it.
const DefaultSystemPrompt = "You are a helpful assistant that answers questions using only the provided context documents. " +
	"If the context does not contain the answer, say so rather than guessing."

// DefaultHistoryTurns bounds how much conversation memory is folded into the
// prompt, bounded to a fixed 10-message (5-turn) window.
const DefaultHistoryTurns = 10

// Citation is the numbered source reference synthesis attaches to a result,
// in the same order the corresponding [Doc N] marker appears in the prompt.
type Citation struct {
	Number  int    `json:"number"`
	ID      string `json:"id"`
	DocID   string `json:"doc_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// Event is a single item of the lazy tagged stream synthesis produces.
// Err is kept out of the JSON encoding; the error event's message field
// carries what a client may see.
type Event struct {
	Kind            EventKind  `json:"kind"`
	Chunk           string     `json:"chunk,omitempty"`
	Citations       []Citation `json:"citations,omitempty"`
	FormattedAnswer string     `json:"formatted_answer,omitempty"`
	Metadata        Metadata   `json:"metadata"`
	Err             error      `json:"-"`
	ErrorMessage    string     `json:"error,omitempty"`
}

// Metadata carries the orchestrator's retrieval metrics, the model name and
// the completion token count, attached as the metadata event. It holds no
// synthesis-stage timings.
type Metadata struct {
	Retrieval  orchestrator.Metrics `json:"retrieval"`
	Model      string               `json:"model,omitempty"`
	TokensUsed int                  `json:"tokens_used,omitempty"`
}

// Options configures a single Synthesize call. Zero value uses defaults.
type Options struct {
	SystemPrompt string
	Model        string
	Temperature  float32
	MaxTokens    int
	SessionID    string
}

// ErrNotAnswerable is returned when Synthesize is called against an
// orchestrator result the guardrail marked not answerable; synthesis must
// never be invoked in that case.
var ErrNotAnswerable = errors.New("synthesis: result is not answerable")

// Adapter streams LLM answers grounded in a guarded retrieval result.
type Adapter struct {
	llm    llm.LLM
	memory *memory.Store
}

// New builds an Adapter. mem may be nil, in which case conversation history
// is never consulted or recorded.
func New(client llm.LLM, mem *memory.Store) *Adapter {
	return &Adapter{llm: client, memory: mem}
}

// Synthesize streams an answer for result against query, emitting citations
// before the first chunk and a formatted_answer/metadata/done sequence once
// generation completes. The returned channel is closed when the stream
// ends, on error or otherwise; callers should drain it until closed.
func (a *Adapter) Synthesize(ctx context.Context, query string, result orchestrator.Result, opts Options) (<-chan Event, error) {
	if !result.IsAnswerable {
		return nil, ErrNotAnswerable
	}

	citations := buildCitations(result.Results)

	var history []memory.Message
	if a.memory != nil && opts.SessionID != "" {
		history = a.memory.GetRecentHistory(opts.SessionID, DefaultHistoryTurns)
		a.memory.AddUserMessage(opts.SessionID, query)
	}

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	prompt := buildPrompt(systemPrompt, citations, query, history)

	genOpts := llm.GenerateOptions{
		Model:        opts.Model,
		SystemPrompt: systemPrompt,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
	}

	tokens, err := a.llm.GenerateStream(ctx, prompt, genOpts)
	if err != nil {
		return nil, fmt.Errorf("starting synthesis stream: %w", err)
	}

	events := make(chan Event, 4)
	go a.pump(ctx, tokens, citations, result, opts, events)
	return events, nil
}

func (a *Adapter) pump(ctx context.Context, tokens <-chan llm.StreamChunk, citations []Citation, result orchestrator.Result, opts Options, events chan<- Event) {
	defer close(events)

	send := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Kind: EventCitations, Citations: citations}) {
		return
	}

	var answer strings.Builder
	var tokensUsed int
	for chunk := range tokens {
		if chunk.Error != nil {
			send(Event{Kind: EventError, Err: chunk.Error, ErrorMessage: chunk.Error.Error()})
			return
		}
		if chunk.Token != "" {
			answer.WriteString(chunk.Token)
			if !send(Event{Kind: EventChunk, Chunk: chunk.Token}) {
				return
			}
		}
		if chunk.Done {
			tokensUsed = chunk.TokenCount
			break
		}
	}

	final := answer.String()
	if a.memory != nil && opts.SessionID != "" {
		a.memory.AddAssistantMessage(opts.SessionID, final)
	}

	if !send(Event{Kind: EventFormattedAnswer, FormattedAnswer: final}) {
		return
	}
	if !send(Event{Kind: EventMetadata, Metadata: Metadata{Retrieval: result.Metrics, Model: opts.Model, TokensUsed: tokensUsed}}) {
		return
	}
	send(Event{Kind: EventDone})
}

// buildCitations numbers each result in rank order, the order they will
// appear as [Doc N] markers in the assembled prompt.
func buildCitations(results []retrieval.Ranked) []Citation {
	citations := make([]Citation, len(results))
	for i, r := range results {
		citations[i] = Citation{
			Number:  i + 1,
			ID:      r.ID,
			DocID:   r.Payload.DocID(),
			Title:   payloadString(r.Payload, "title"),
			Source:  payloadString(r.Payload, "source"),
			Content: r.Content,
		}
	}
	return citations
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// buildPrompt assembles the synthesis prompt: system instructions, optional
// conversation history, numbered context documents, and the question.
func buildPrompt(systemPrompt string, citations []Citation, query string, history []memory.Message) string {
	var sb strings.Builder

	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n")
		sb.WriteString("(Previous exchanges in this session for context)\n\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString("## Context Documents\n\n")
	for _, c := range citations {
		sb.WriteString(fmt.Sprintf("[Doc %d]", c.Number))
		if c.Title != "" {
			sb.WriteString(fmt.Sprintf(" (Title: %s)", c.Title))
		}
		if c.Source != "" {
			sb.WriteString(fmt.Sprintf(" (Source: %s)", c.Source))
		}
		sb.WriteString("\n")
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("## Answer (cite sources as [Doc N]; be brief and direct)\n")

	return sb.String()
}
