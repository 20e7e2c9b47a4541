// Package ingest turns one upload batch into a stored corpus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"prepareup/internal/extractor"
	"prepareup/internal/logger"
	"prepareup/internal/ocr"
	"prepareup/internal/sessionstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	MaxFiles        = 20
	MaxBytesPerFile = 25 << 20
	// PreviewChars is how much of the corpus is echoed back for display.
	PreviewChars = 800
	// CorpusLimit bounds what generate and chat hand to the model.
	CorpusLimit = 60000
)

var (
	ErrNoFiles          = errors.New("no files provided")
	ErrTooManyFiles     = fmt.Errorf("too many files, max %d", MaxFiles)
	ErrFileTooLarge     = errors.New("file too large")
	ErrNothingExtracted = errors.New("could not extract text from the uploaded files")
	// ErrStore wraps a failure to persist the corpus.
	ErrStore = errors.New("failed to store session text")
)

// FileTooLargeError names the offending file; it matches ErrFileTooLarge.
type FileTooLargeError struct {
	Name string
	Size int64
}

func (e *FileTooLargeError) Error() string { return "file too large: " + e.Name }

func (e *FileTooLargeError) Is(target error) bool { return target == ErrFileTooLarge }

// File is one uploaded file. Size is the byte count reported by the client
// when it is known before Data has been fully read; it is checked along with
// len(Data).
type File struct {
	Name string
	MIME string
	Size int64
	Data []byte
}

// FileRecord is the per-file summary returned to the client.
type FileRecord struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	MIME    string           `json:"mime"`
	Size    int64            `json:"size"`
	Status  extractor.Status `json:"status"`
	TextLen int              `json:"text_len"`
}

// BatchResult is the response for an accepted batch.
type BatchResult struct {
	SessionID  string       `json:"session_id"`
	Files      []FileRecord `json:"files"`
	Preview    string       `json:"preview"`
	PreviewLen int          `json:"preview_len"`
	TTLSeconds int          `json:"ttl_seconds"`
}

// SessionStore is what the service needs from the session layer.
type SessionStore interface {
	sessionstore.Writer
	sessionstore.Reader
	TTL() time.Duration
}

type Config struct {
	// Workers bounds concurrent extractions within one batch.
	Workers     int
	FileTimeout time.Duration
}

type Service struct {
	extractor *extractor.Extractor
	store     SessionStore
	workers   int
	timeout   time.Duration
	newID     func() string
	log       *logger.Logger
}

func NewService(ext *extractor.Extractor, store SessionStore, cfg Config, log *logger.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		extractor: ext,
		store:     store,
		workers:   cfg.Workers,
		timeout:   cfg.FileTimeout,
		newID:     uuid.NewString,
		log:       log,
	}
}

type submitOptions struct {
	ocr ocr.Func
}

type SubmitOption func(*submitOptions)

// WithOCR supplies a recogniser used for every image in the batch.
func WithOCR(fn ocr.Func) SubmitOption {
	return func(o *submitOptions) { o.ocr = fn }
}

// SubmitBatch extracts every file, stores the combined corpus and returns the
// new session. Limits are checked for the whole batch before any extraction,
// and no session is created when the batch is rejected.
func (s *Service) SubmitBatch(ctx context.Context, files []File, opts ...SubmitOption) (*BatchResult, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > MaxFiles {
		return nil, ErrTooManyFiles
	}
	for _, f := range files {
		size := max(f.Size, int64(len(f.Data)))
		if size > MaxBytesPerFile {
			return nil, &FileTooLargeError{Name: f.Name, Size: size}
		}
	}

	results := make([]extractor.Result, len(files))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, f := range files {
		if len(f.Data) == 0 {
			results[i] = extractor.Result{Status: extractor.StatusUploaded}
			continue
		}
		g.Go(func() error {
			results[i] = s.extractOne(ctx, f, o.ocr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]FileRecord, len(files))
	parts := make([]string, 0, len(files))
	pendingOCR := false
	for i, f := range files {
		res := results[i]
		records[i] = FileRecord{
			ID:      s.newID(),
			Name:    f.Name,
			MIME:    f.MIME,
			Size:    int64(len(f.Data)),
			Status:  res.Status,
			TextLen: utf8.RuneCountInString(res.Text),
		}
		if res.Status == extractor.StatusNeedsOCR {
			pendingOCR = true
		}
		if res.Text != "" {
			parts = append(parts, "--- "+f.Name+" ---\n"+res.Text)
		}
	}

	corpus := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if corpus == "" && !pendingOCR {
		return nil, ErrNothingExtracted
	}

	id, err := s.store.Create(ctx, corpus)
	if err != nil {
		s.log.Error("store session", "files", len(files), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	preview := Bounded(corpus, PreviewChars)
	s.log.Info("batch stored", "session", id, "files", len(files), "corpus_chars", utf8.RuneCountInString(corpus), "pending_ocr", pendingOCR)
	return &BatchResult{
		SessionID:  id,
		Files:      records,
		Preview:    preview,
		PreviewLen: utf8.RuneCountInString(preview),
		TTLSeconds: int(s.store.TTL() / time.Second),
	}, nil
}

// extractOne bounds a single extraction by the per-file timeout. A file that
// overruns is reported as failed; its parser finishes in the background.
func (s *Service) extractOne(ctx context.Context, f File, fn ocr.Func) extractor.Result {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan extractor.Result, 1)
	go func() {
		done <- s.extractor.Extract(fctx, extractor.Input{Filename: f.Name, MIME: f.MIME, Data: f.Data, OCR: fn})
	}()
	select {
	case res := <-done:
		return res
	case <-fctx.Done():
		s.log.Warn("extraction timed out", "file", f.Name, "error", fctx.Err())
		return extractor.Result{Status: extractor.StatusExtractFailed}
	}
}

// Corpus returns the stored corpus for a session, trimmed and bounded to
// CorpusLimit characters. Missing or expired sessions return an error
// matching sessionstore.ErrNotFound.
func (s *Service) Corpus(ctx context.Context, sessionID string) (string, error) {
	text, err := s.store.Read(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return Bounded(strings.TrimSpace(text), CorpusLimit), nil
}

// Store saves an already assembled corpus, such as an imported transcript, as
// a new session.
func (s *Service) Store(ctx context.Context, corpus string) (string, error) {
	id, err := s.store.Create(ctx, corpus)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	return id, nil
}

// TTL is the lifetime of sessions created by the service.
func (s *Service) TTL() time.Duration { return s.store.TTL() }

// Bounded returns at most n characters of text.
func Bounded(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
