package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/memory"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/retrieval"
	"github.com/knoguchi/rag/internal/vectorstore"
)

type fakeLLM struct {
	prompt string
	chunks []llm.StreamChunk
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	f.prompt = prompt
	ch := make(chan llm.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func answerableResult() orchestrator.Result {
	return orchestrator.Result{
		IsAnswerable: true,
		Results: []retrieval.Ranked{
			{
				ID:      "c1",
				Content: "Refunds are available within 30 days.",
				Payload: vectorstore.Payload{"title": "Refund Policy", "source": "kb/refunds.md"},
			},
		},
	}
}

func TestSynthesizeNotAnswerableReturnsError(t *testing.T) {
	a := New(&fakeLLM{}, nil)
	_, err := a.Synthesize(context.Background(), "q", orchestrator.Result{IsAnswerable: false}, Options{})
	if !errors.Is(err, ErrNotAnswerable) {
		t.Fatalf("want ErrNotAnswerable, got %v", err)
	}
}

func TestSynthesizeEmitsCitationsChunksThenDone(t *testing.T) {
	fake := &fakeLLM{chunks: []llm.StreamChunk{
		{Token: "Yes, "},
		{Token: "within 30 days. [Doc 1]", Done: true},
	}}
	a := New(fake, nil)

	events, err := a.Synthesize(context.Background(), "can I get a refund?", answerableResult(), Options{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := drain(t, events)

	if len(got) < 4 {
		t.Fatalf("want at least 4 events, got %d: %+v", len(got), got)
	}
	if got[0].Kind != EventCitations || len(got[0].Citations) != 1 || got[0].Citations[0].Number != 1 {
		t.Fatalf("want first event to be a single numbered citation, got %+v", got[0])
	}
	if got[len(got)-1].Kind != EventDone {
		t.Fatalf("want last event done, got %+v", got[len(got)-1])
	}
	var formatted string
	for _, e := range got {
		if e.Kind == EventFormattedAnswer {
			formatted = e.FormattedAnswer
		}
	}
	if formatted != "Yes, within 30 days. [Doc 1]" {
		t.Fatalf("want assembled formatted answer, got %q", formatted)
	}
	if !strings.Contains(fake.prompt, "[Doc 1]") || !strings.Contains(fake.prompt, "Refund Policy") {
		t.Fatalf("want prompt to contain numbered citation and title, got %q", fake.prompt)
	}
}

func TestSynthesizeStreamErrorEmitsErrorEvent(t *testing.T) {
	fake := &fakeLLM{chunks: []llm.StreamChunk{{Error: errors.New("boom"), Done: true}}}
	a := New(fake, nil)

	events, err := a.Synthesize(context.Background(), "q", answerableResult(), Options{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := drain(t, events)
	if len(got) != 2 || got[1].Kind != EventError {
		t.Fatalf("want citations then error event, got %+v", got)
	}
}

func TestSynthesizeRecordsConversationMemory(t *testing.T) {
	mem := memory.NewStore(20, 0)
	fake := &fakeLLM{chunks: []llm.StreamChunk{{Token: "answer", Done: true}}}
	a := New(fake, mem)

	events, err := a.Synthesize(context.Background(), "what is the policy?", answerableResult(), Options{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	drain(t, events)

	history := mem.GetHistory("s1")
	if len(history) == 0 {
		t.Fatal("want user message recorded immediately")
	}
	if history[0].Role != "user" || history[0].Content != "what is the policy?" {
		t.Fatalf("want recorded user message, got %+v", history[0])
	}
}
