package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"prepareup/internal/logger"
)

const defaultVisionTimeout = 20 * time.Second

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Vision runs DOCUMENT_TEXT_DETECTION through Google Cloud Vision.
type Vision struct {
	log      *logger.Logger
	timeout  time.Duration
	annotate annotateFunc
	close    func() error
}

// NewVision dials the Vision API. An empty credentialsFile falls back to
// application default credentials.
func NewVision(ctx context.Context, credentialsFile string, timeout time.Duration, log *logger.Logger) (*Vision, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	v := newVision(func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return client.BatchAnnotateImages(ctx, req)
	}, timeout, log)
	v.close = client.Close
	return v, nil
}

func newVision(fn annotateFunc, timeout time.Duration, log *logger.Logger) *Vision {
	if timeout <= 0 {
		timeout = defaultVisionTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Vision{log: log.With("service", "ocr.Vision"), timeout: timeout, annotate: fn}
}

// Recognize returns the full text annotation, or "" on any failure.
func (v *Vision) Recognize(ctx context.Context, image []byte, mime string) string {
	if len(image) == 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	text, err := v.recognize(ctx, image)
	if err != nil {
		v.log.Warn("ocr failed", "mime", mime, "bytes", len(image), "error", err)
		return ""
	}
	return text
}

func (v *Vision) recognize(ctx context.Context, image []byte) (string, error) {
	resp, err := v.annotate(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return "", errors.New(r0.Error.Message)
	}
	if r0.FullTextAnnotation == nil {
		return "", nil
	}
	return strings.TrimSpace(r0.FullTextAnnotation.Text), nil
}

func (v *Vision) Close() error {
	if v == nil || v.close == nil {
		return nil
	}
	return v.close()
}
