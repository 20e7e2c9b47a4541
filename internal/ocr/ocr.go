// Package ocr provides the optional optical character recognition used for
// image uploads. Availability is decided once at startup.
package ocr

import (
	"context"
	"time"

	"prepareup/internal/config"
	"prepareup/internal/logger"
)

// Func is a caller-supplied recogniser. It returns "" when no text was found.
type Func func(ctx context.Context, image []byte) string

// Backend recognises text in an image. Implementations never fail: any error
// is logged and reported as an empty string.
type Backend interface {
	Recognize(ctx context.Context, image []byte, mime string) string
}

// Capability is either Unavailable or Available.
type Capability interface {
	capability()
}

// Unavailable means no OCR backend is configured or it could not be built.
type Unavailable struct{}

// Available wraps a working backend.
type Available struct {
	Backend Backend
}

func (Unavailable) capability() {}
func (Available) capability()   {}

// Detect builds the capability described by cfg. Failures to construct the
// backend are logged and yield Unavailable.
func Detect(ctx context.Context, cfg config.OCRConfig, log *logger.Logger) Capability {
	if log == nil {
		log = logger.Nop()
	}
	switch cfg.Backend {
	case "", "none":
		log.Info("ocr disabled")
		return Unavailable{}
	case "gcp_vision":
		v, err := NewVision(ctx, cfg.CredentialsFile, time.Duration(cfg.TimeoutSeconds)*time.Second, log)
		if err != nil {
			log.Warn("ocr backend unavailable", "backend", cfg.Backend, "error", err)
			return Unavailable{}
		}
		log.Info("ocr enabled", "backend", cfg.Backend)
		return Available{Backend: v}
	default:
		log.Warn("unknown ocr backend", "backend", cfg.Backend)
		return Unavailable{}
	}
}
