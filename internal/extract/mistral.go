package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	mistralBaseURL = "https://api.mistral.ai"
	mistralModel   = "mistral-ocr-latest"
	ocrTimeout     = 120 * time.Second

	// maxOCRMessage bounds upstream error bodies, matching the embedding
	// client's truncation.
	maxOCRMessage = 300
)

// ErrNoOCRCredential indicates MISTRAL_API_KEY is not configured.
var ErrNoOCRCredential = errors.New("no OCR API credential configured")

// MistralOCR calls the Mistral OCR endpoint. The PDF travels inline as a
// data URI; the response carries one markdown blob per page.
type MistralOCR struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewMistralOCR creates the client. Returns ErrNoOCRCredential when the API
// key is missing so callers can fall back to text-only ingestion.
func NewMistralOCR(apiKey string, logger *slog.Logger) (*MistralOCR, error) {
	if apiKey == "" {
		return nil, ErrNoOCRCredential
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MistralOCR{
		baseURL: mistralBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: ocrTimeout},
		logger:  logger,
	}, nil
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// ExtractPDF runs OCR over the PDF and returns the concatenated markdown
// with a `<!-- page:N -->` marker ahead of each page (1-based).
func (m *MistralOCR) ExtractPDF(ctx context.Context, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", fmt.Errorf("empty PDF input")
	}

	payload, err := json.Marshal(ocrRequest{
		Model: mistralModel,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if len(msg) > maxOCRMessage {
			msg = msg[:maxOCRMessage]
		}
		return "", fmt.Errorf("mistral OCR API error %d: %s", resp.StatusCode, msg)
	}

	var parsed ocrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode OCR response: %w", err)
	}

	var b bytes.Buffer
	for i, page := range parsed.Pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<!-- page:%d -->\n", page.Index+1)
		b.WriteString(page.Markdown)
	}

	m.logger.Debug("OCR complete", "pages", len(parsed.Pages))
	return b.String(), nil
}
