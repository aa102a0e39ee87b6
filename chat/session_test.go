package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fabfab/docbot/index"
	"github.com/fabfab/docbot/llm"
)

// echoLLM answers each question with a numbered reply and records the
// history it was given through the answer prompt.
type echoLLM struct {
	answers   int
	histories [][]Turn
	failNext  bool
}

func (e *echoLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if messages[0].Role != llm.RoleSystem {
		return "standalone", nil
	}
	if e.failNext {
		e.failNext = false
		return "", errors.New("rate limited")
	}

	var turns []Turn
	body := messages[1 : len(messages)-1]
	for i := 0; i+1 < len(body); i += 2 {
		turns = append(turns, Turn{Question: body[i].Content, Answer: body[i+1].Content})
	}
	e.histories = append(e.histories, turns)
	e.answers++
	return fmt.Sprintf("answer %d", e.answers), nil
}

func TestSessionThreadsHistory(t *testing.T) {
	model := &echoLLM{}
	svc := NewService(&stubRetriever{matches: []index.Match{parisMatch()}}, nil, model, quietLogger())
	session := NewSession(svc, Config{})

	questions := []string{"first?", "  second?  ", "third?"}
	for _, q := range questions {
		if _, err := session.Ask(context.Background(), q); err != nil {
			t.Fatalf("ask %q: %v", q, err)
		}
	}

	want := []Turn{
		{Question: "first?", Answer: "answer 1"},
		{Question: "second?", Answer: "answer 2"},
		{Question: "third?", Answer: "answer 3"},
	}
	history := session.History()
	if len(history) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(history))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("turn %d: got %+v want %+v", i, history[i], want[i])
		}
	}

	for call, seen := range model.histories {
		if len(seen) != call {
			t.Fatalf("call %d saw %d turns, want %d", call+1, len(seen), call)
		}
		for i := range seen {
			if seen[i] != want[i] {
				t.Fatalf("call %d turn %d: got %+v want %+v", call+1, i, seen[i], want[i])
			}
		}
	}
}

func TestSessionKeepsHistoryOnFailure(t *testing.T) {
	model := &echoLLM{}
	svc := NewService(&stubRetriever{}, nil, model, quietLogger())
	session := NewSession(svc, Config{})

	if _, err := session.Ask(context.Background(), "first?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	model.failNext = true
	if _, err := session.Ask(context.Background(), "second?"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := session.Ask(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}

	if got := len(session.History()); got != 1 {
		t.Fatalf("failed turns must not be recorded, have %d turns", got)
	}
}

func TestSessionHistoryIsCopy(t *testing.T) {
	svc := NewService(&stubRetriever{}, nil, &echoLLM{}, quietLogger())
	session := NewSession(svc, Config{})
	if _, err := session.Ask(context.Background(), "first?"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	history := session.History()
	history[0].Answer = "tampered"
	if session.History()[0].Answer != "answer 1" {
		t.Fatal("History must return a copy")
	}
}
