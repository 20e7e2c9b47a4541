// Package study builds study artifacts and grounded chat answers from a
// session corpus using a chat model.
package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"prepareup/internal/logger"
	"prepareup/internal/service/ai"
)

type OutputType string

const (
	OutputFlashCard  OutputType = "flash_card"
	OutputStudyGuide OutputType = "study_guide"
	OutputPodcast    OutputType = "podcast"
	OutputNarrative  OutputType = "narrative"
)

const (
	DefaultCount    = 20
	MinCount        = 5
	MaxCount        = 50
	MaxMessageChars = 10000
	// HistoryTurns is how many of the most recent chat turns reach the model.
	HistoryTurns    = 12
	minPodcastTurns = 12
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyCorpus    = errors.New("no extracted text available for this session")
	ErrInvalidOutput  = errors.New("model returned invalid JSON")
	// ErrGeneration wraps failures of the model call itself.
	ErrGeneration = errors.New("generation failed")
)

func (t OutputType) Valid() bool {
	switch t {
	case OutputFlashCard, OutputStudyGuide, OutputPodcast, OutputNarrative:
		return true
	}
	return false
}

type GenerateRequest struct {
	OutputType OutputType
	// Count is the number of flashcards; nil means DefaultCount.
	Count *int
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type Flashcards struct {
	Type  OutputType  `json:"type"`
	Cards []Flashcard `json:"cards"`
}

type PodcastTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type Podcast struct {
	Type     OutputType    `json:"type"`
	Speakers []string      `json:"speakers"`
	Script   []PodcastTurn `json:"script"`
}

type TextOutput struct {
	Type OutputType `json:"type"`
	Text string     `json:"text"`
}

type ChatTurn struct {
	// Role is "user" or "ai".
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message string
	History []ChatTurn
}

type ChatAnswer struct {
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

// Validate checks the output type and the flashcard count bounds.
func (r GenerateRequest) Validate() error {
	if !r.OutputType.Valid() {
		return fmt.Errorf("%w: unknown output_type %q", ErrInvalidRequest, r.OutputType)
	}
	if r.Count != nil && (*r.Count < MinCount || *r.Count > MaxCount) {
		return fmt.Errorf("%w: count must be between %d and %d", ErrInvalidRequest, MinCount, MaxCount)
	}
	return nil
}

func (r GenerateRequest) count() int {
	if r.Count == nil {
		return DefaultCount
	}
	return *r.Count
}

// Validate checks the message and every history turn.
func (r ChatRequest) Validate() error {
	if err := validateText("message", r.Message); err != nil {
		return err
	}
	for i, turn := range r.History {
		if turn.Role != "user" && turn.Role != "ai" {
			return fmt.Errorf("%w: history[%d].role must be user or ai", ErrInvalidRequest, i)
		}
		if err := validateText(fmt.Sprintf("history[%d].content", i), turn.Content); err != nil {
			return err
		}
	}
	return nil
}

type Service struct {
	llm ai.Completer
	log *logger.Logger
}

func NewService(llm ai.Completer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{llm: llm, log: log}
}

// Generate returns a *Flashcards, *Podcast or *TextOutput for req.
func (s *Service) Generate(ctx context.Context, corpus string, req GenerateRequest) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	count := req.count()
	corpus = strings.TrimSpace(corpus)
	if corpus == "" {
		return nil, ErrEmptyCorpus
	}

	system, user := prompt(req.OutputType, corpus, count)
	raw, err := s.complete(ctx, system, []ai.Message{{Role: ai.RoleUser, Content: user}})
	if err != nil {
		return nil, err
	}

	switch req.OutputType {
	case OutputFlashCard:
		var out Flashcards
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		cards := out.Cards[:0]
		for _, c := range out.Cards {
			c.Front, c.Back = strings.TrimSpace(c.Front), strings.TrimSpace(c.Back)
			if c.Front != "" && c.Back != "" {
				cards = append(cards, c)
			}
		}
		if len(cards) == 0 {
			return nil, fmt.Errorf("%w: no flashcards", ErrInvalidOutput)
		}
		if len(cards) > count {
			cards = cards[:count]
		}
		out.Type, out.Cards = OutputFlashCard, cards
		return &out, nil
	case OutputPodcast:
		var out Podcast
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		if len(out.Speakers) != 2 || len(out.Script) == 0 {
			return nil, fmt.Errorf("%w: podcast needs two speakers and a script", ErrInvalidOutput)
		}
		out.Type = OutputPodcast
		return &out, nil
	default:
		var out TextOutput
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		if strings.TrimSpace(out.Text) == "" {
			return nil, fmt.Errorf("%w: empty text", ErrInvalidOutput)
		}
		out.Type = req.OutputType
		return &out, nil
	}
}

// Chat answers req.Message grounded in corpus, replaying the most recent
// HistoryTurns turns of the conversation.
func (s *Service) Chat(ctx context.Context, corpus string, req ChatRequest) (*ChatAnswer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	corpus = strings.TrimSpace(corpus)
	if corpus == "" {
		return nil, ErrEmptyCorpus
	}

	history := req.History
	if len(history) > HistoryTurns {
		history = history[len(history)-HistoryTurns:]
	}
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: documentsPreamble(corpus)})
	for _, turn := range history {
		role := ai.RoleUser
		if turn.Role == "ai" {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.Message{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: req.Message})

	raw, err := s.complete(ctx, chatPrompt, msgs)
	if err != nil {
		return nil, err
	}
	var out ChatAnswer
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrInvalidOutput)
	}
	out.Type = "chat"
	return &out, nil
}

func (s *Service) complete(ctx context.Context, system string, msgs []ai.Message) (string, error) {
	raw, err := s.llm.Complete(ctx, system, msgs)
	if err != nil {
		s.log.Error("model call failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return raw, nil
}

func validateText(field, s string) error {
	n := utf8.RuneCountInString(s)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	if n > MaxMessageChars {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidRequest, field, MaxMessageChars)
	}
	return nil
}

// decodeJSON accepts a bare object or one wrapped in a markdown code fence.
func decodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ErrInvalidOutput
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}
