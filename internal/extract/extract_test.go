package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/korpusai/korpus/internal/log"
)

type stubOCR struct {
	out string
	err error
}

func (s *stubOCR) ExtractPDF(context.Context, []byte) (string, error) {
	return s.out, s.err
}

func TestExtract_PlainFormats(t *testing.T) {
	svc := New(nil, log.NewNop())

	for _, name := range []string{"notes.txt", "readme.md", "doc.markdown", "UPPER.MD"} {
		t.Run(name, func(t *testing.T) {
			got, err := svc.Extract(context.Background(), name, []byte("# hello\n\ncontent"))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got != "# hello\n\ncontent" {
				t.Errorf("Extract() = %q", got)
			}
		})
	}
}

func TestExtract_InvalidUTF8(t *testing.T) {
	svc := New(nil, log.NewNop())
	if _, err := svc.Extract(context.Background(), "bad.txt", []byte{0xff, 0xfe, 0x01}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtract_PDFRoutesToOCR(t *testing.T) {
	svc := New(&stubOCR{out: "<!-- page:1 -->\nocr text"}, log.NewNop())

	got, err := svc.Extract(context.Background(), "scan.pdf", []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "<!-- page:1 -->\nocr text" {
		t.Errorf("Extract() = %q", got)
	}
}

func TestExtract_PDFWithoutOCR(t *testing.T) {
	svc := New(nil, log.NewNop())
	if _, err := svc.Extract(context.Background(), "scan.pdf", []byte("%PDF-1.7")); !errors.Is(err, ErrNoOCR) {
		t.Errorf("Extract() error = %v, want ErrNoOCR", err)
	}
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	svc := New(nil, log.NewNop())
	if _, err := svc.Extract(context.Background(), "table.xlsx", []byte("data")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNewMistralOCR_NoCredential(t *testing.T) {
	if _, err := NewMistralOCR("", log.NewNop()); !errors.Is(err, ErrNoOCRCredential) {
		t.Errorf("NewMistralOCR() error = %v, want ErrNoOCRCredential", err)
	}
}

func TestMistralOCR_ExtractPDF(t *testing.T) {
	var gotReq ocrRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ocr" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer mistral-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pages": []map[string]any{
				{"index": 0, "markdown": "# Page one"},
				{"index": 1, "markdown": "Page two content"},
			},
		})
	}))
	defer srv.Close()

	ocr, err := NewMistralOCR("mistral-key", log.NewNop())
	if err != nil {
		t.Fatalf("NewMistralOCR() error = %v", err)
	}
	ocr.baseURL = srv.URL

	got, err := ocr.ExtractPDF(context.Background(), []byte("%PDF-1.7 fake"))
	if err != nil {
		t.Fatalf("ExtractPDF() error = %v", err)
	}

	if gotReq.Model != mistralModel {
		t.Errorf("model = %q", gotReq.Model)
	}
	if !strings.HasPrefix(gotReq.Document.DocumentURL, "data:application/pdf;base64,") {
		t.Errorf("document_url = %q, want data URI", gotReq.Document.DocumentURL)
	}
	if !strings.Contains(got, "<!-- page:1 -->\n# Page one") {
		t.Errorf("missing page 1 marker:\n%s", got)
	}
	if !strings.Contains(got, "<!-- page:2 -->\nPage two content") {
		t.Errorf("missing page 2 marker:\n%s", got)
	}
}

func TestMistralOCR_UpstreamErrorTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(strings.Repeat("e", 2000)))
	}))
	defer srv.Close()

	ocr, err := NewMistralOCR("k", log.NewNop())
	if err != nil {
		t.Fatalf("NewMistralOCR() error = %v", err)
	}
	ocr.baseURL = srv.URL

	_, err = ocr.ExtractPDF(context.Background(), []byte("%PDF"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > maxOCRMessage+100 {
		t.Errorf("error message not truncated: %d bytes", len(err.Error()))
	}
}

func TestMistralOCR_EmptyInput(t *testing.T) {
	ocr, err := NewMistralOCR("k", log.NewNop())
	if err != nil {
		t.Fatalf("NewMistralOCR() error = %v", err)
	}
	if _, err := ocr.ExtractPDF(context.Background(), nil); err == nil {
		t.Fatal("empty PDF should error")
	}
}
