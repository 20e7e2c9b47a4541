package study

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"prepareup/internal/service/ai"
)

type fakeCompleter struct {
	reply  string
	err    error
	system string
	msgs   []ai.Message
}

func (f *fakeCompleter) Complete(_ context.Context, system string, msgs []ai.Message) (string, error) {
	f.system, f.msgs = system, msgs
	return f.reply, f.err
}

func intPtr(n int) *int { return &n }

func TestGenerateFlashcards(t *testing.T) {
	llm := &fakeCompleter{reply: "```json\n" + `{"type":"flash_card","cards":[{"front":"Capital of France","back":"Paris"},{"front":" ","back":"x"},{"front":"H2O","back":"Water"}]}` + "\n```"}
	svc := NewService(llm, nil)

	out, err := svc.Generate(context.Background(), "Paris is the capital.", GenerateRequest{OutputType: OutputFlashCard, Count: intPtr(5)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cards, ok := out.(*Flashcards)
	if !ok {
		t.Fatalf("unexpected output type %T", out)
	}
	if len(cards.Cards) != 2 || cards.Cards[1].Back != "Water" {
		t.Fatalf("unexpected cards %+v", cards.Cards)
	}
	if !strings.Contains(llm.msgs[0].Content, "Make exactly 5 flashcards") {
		t.Fatalf("instruction missing count: %q", llm.msgs[0].Content)
	}
	if !strings.Contains(llm.msgs[0].Content, "CONTENT:\nParis is the capital.") {
		t.Fatalf("instruction missing corpus")
	}
}

func TestGenerateDefaultCount(t *testing.T) {
	llm := &fakeCompleter{reply: `{"type":"flash_card","cards":[{"front":"a","back":"b"}]}`}
	if _, err := NewService(llm, nil).Generate(context.Background(), "text", GenerateRequest{OutputType: OutputFlashCard}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(llm.msgs[0].Content, fmt.Sprintf("Make exactly %d flashcards", DefaultCount)) {
		t.Fatalf("expected default count in instruction")
	}
}

func TestGenerateTextForcesType(t *testing.T) {
	llm := &fakeCompleter{reply: `{"type":"narrative","text":"# Guide"}`}
	out, err := NewService(llm, nil).Generate(context.Background(), "text", GenerateRequest{OutputType: OutputStudyGuide})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	guide := out.(*TextOutput)
	if guide.Type != OutputStudyGuide || guide.Text != "# Guide" {
		t.Fatalf("unexpected output %+v", guide)
	}
}

func TestGeneratePodcast(t *testing.T) {
	llm := &fakeCompleter{reply: `Sure! {"type":"podcast","speakers":["Host","Guest"],"script":[{"speaker":"Host","text":"Welcome"}]}`}
	out, err := NewService(llm, nil).Generate(context.Background(), "text", GenerateRequest{OutputType: OutputPodcast})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p := out.(*Podcast); len(p.Speakers) != 2 || p.Script[0].Text != "Welcome" {
		t.Fatalf("unexpected podcast %+v", p)
	}

	llm.reply = `{"type":"podcast","speakers":["Solo"],"script":[]}`
	if _, err := NewService(llm, nil).Generate(context.Background(), "text", GenerateRequest{OutputType: OutputPodcast}); !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	svc := NewService(&fakeCompleter{}, nil)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, "text", GenerateRequest{OutputType: "essay"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for output type, got %v", err)
	}
	for _, n := range []int{4, 51, 0} {
		if _, err := svc.Generate(ctx, "text", GenerateRequest{OutputType: OutputFlashCard, Count: intPtr(n)}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("count %d: expected ErrInvalidRequest, got %v", n, err)
		}
	}
	if _, err := svc.Generate(ctx, "  \n", GenerateRequest{OutputType: OutputNarrative}); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestGenerateModelErrors(t *testing.T) {
	ctx := context.Background()
	bad := NewService(&fakeCompleter{reply: "I cannot help with that."}, nil)
	if _, err := bad.Generate(ctx, "text", GenerateRequest{OutputType: OutputNarrative}); !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
	down := NewService(&fakeCompleter{err: errors.New("timeout")}, nil)
	if _, err := down.Generate(ctx, "text", GenerateRequest{OutputType: OutputNarrative}); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if _, err := NewService(ai.Unconfigured{}, nil).Generate(ctx, "text", GenerateRequest{OutputType: OutputNarrative}); !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured to stay visible, got %v", err)
	}
}

func TestChat(t *testing.T) {
	llm := &fakeCompleter{reply: `{"type":"chat","answer":"Paris."}`}
	svc := NewService(llm, nil)

	var history []ChatTurn
	for i := 0; i < 15; i++ {
		role := "user"
		if i%2 == 1 {
			role = "ai"
		}
		history = append(history, ChatTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	ans, err := svc.Chat(context.Background(), "Paris is the capital.", ChatRequest{Message: "What is the capital?", History: history})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if ans.Type != "chat" || ans.Answer != "Paris." {
		t.Fatalf("unexpected answer %+v", ans)
	}
	// documents + 12 history turns + current message
	if len(llm.msgs) != HistoryTurns+2 {
		t.Fatalf("expected %d messages, got %d", HistoryTurns+2, len(llm.msgs))
	}
	if llm.msgs[1].Content != "turn 3" || llm.msgs[1].Role != ai.RoleAssistant {
		t.Fatalf("history not trimmed to most recent turns: %+v", llm.msgs[1])
	}
	if last := llm.msgs[len(llm.msgs)-1]; last.Content != "What is the capital?" || last.Role != ai.RoleUser {
		t.Fatalf("unexpected final message %+v", last)
	}
	if !strings.HasPrefix(llm.msgs[0].Content, "DOCUMENTS (use as the only source):\nParis is the capital.") {
		t.Fatalf("documents preamble missing")
	}
	if !strings.Contains(llm.system, "Prepare-Up") {
		t.Fatalf("grounding prompt missing")
	}
}

func TestChatValidation(t *testing.T) {
	svc := NewService(&fakeCompleter{reply: `{"type":"chat","answer":"ok"}`}, nil)
	ctx := context.Background()
	cases := []ChatRequest{
		{Message: ""},
		{Message: strings.Repeat("x", MaxMessageChars+1)},
		{Message: "hi", History: []ChatTurn{{Role: "system", Content: "x"}}},
		{Message: "hi", History: []ChatTurn{{Role: "user", Content: ""}}},
	}
	for i, req := range cases {
		if _, err := svc.Chat(ctx, "corpus", req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
	if _, err := svc.Chat(ctx, "", ChatRequest{Message: "hi"}); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
	if _, err := svc.Chat(ctx, "corpus", ChatRequest{Message: strings.Repeat("é", MaxMessageChars)}); err != nil {
		t.Fatalf("message at limit should pass: %v", err)
	}
}
