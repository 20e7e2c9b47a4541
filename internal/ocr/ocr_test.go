package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"prepareup/internal/config"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
)

func TestDetectNone(t *testing.T) {
	if _, ok := Detect(context.Background(), config.OCRConfig{Backend: "none"}, nil).(Unavailable); !ok {
		t.Fatalf("expected Unavailable for none backend")
	}
	if _, ok := Detect(context.Background(), config.OCRConfig{Backend: "tesseract"}, nil).(Unavailable); !ok {
		t.Fatalf("expected Unavailable for unknown backend")
	}
}

func TestVisionRecognize(t *testing.T) {
	var gotFeature visionpb.Feature_Type
	v := newVision(func(_ context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		gotFeature = req.Requests[0].Features[0].Type
		return &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{
			FullTextAnnotation: &visionpb.TextAnnotation{Text: "  scanned words \n"},
		}}}, nil
	}, time.Second, nil)

	if got := v.Recognize(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png"); got != "scanned words" {
		t.Fatalf("unexpected text %q", got)
	}
	if gotFeature != visionpb.Feature_DOCUMENT_TEXT_DETECTION {
		t.Fatalf("unexpected feature %v", gotFeature)
	}
}

func TestVisionErrorsBecomeEmpty(t *testing.T) {
	cases := map[string]annotateFunc{
		"transport": func(context.Context, *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return nil, errors.New("unavailable")
		},
		"annotate": func(context.Context, *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return &visionpb.BatchAnnotateImagesResponse{Responses: []*visionpb.AnnotateImageResponse{{
				Error: &statuspb.Status{Message: "bad image"},
			}}}, nil
		},
		"empty": func(context.Context, *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return &visionpb.BatchAnnotateImagesResponse{}, nil
		},
	}
	for name, fn := range cases {
		v := newVision(fn, time.Second, nil)
		if got := v.Recognize(context.Background(), []byte("img"), "image/png"); got != "" {
			t.Fatalf("%s: expected empty text, got %q", name, got)
		}
	}
}

func TestVisionHonoursTimeout(t *testing.T) {
	v := newVision(func(ctx context.Context, _ *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond, nil)

	start := time.Now()
	if got := v.Recognize(context.Background(), []byte("img"), "image/png"); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("recognize did not respect timeout")
	}
}
