package grounding

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/korpusai/korpus/internal/store"
)

func TestBuildTextContext_Empty(t *testing.T) {
	if got := BuildTextContext(nil); got != "" {
		t.Errorf("BuildTextContext(nil) = %q, want empty", got)
	}
}

func TestBuildTextContext_Format(t *testing.T) {
	chunks := []store.Candidate{
		{
			DocumentID: uuid.New(),
			Filename:   "handbook.pdf",
			Content:    "## Vacation > ### Approval\nRequests need two days notice.",
			Score:      0.876,
		},
		{
			DocumentID: uuid.New(),
			Filename:   "faq.md",
			Content:    "Remote work is allowed on Fridays.",
			Score:      0.42,
		},
	}

	got := BuildTextContext(chunks)

	if !strings.HasPrefix(got, "[Relevant documents for context:]") {
		t.Errorf("missing header, got %q", got)
	}
	if !strings.Contains(got, "--- Source 1: handbook.pdf (relevance: 88%) ---") {
		t.Errorf("first block header wrong:\n%s", got)
	}
	if !strings.Contains(got, "--- Source 2: faq.md (relevance: 42%) ---") {
		t.Errorf("second block header wrong:\n%s", got)
	}
	// Order given is order rendered.
	if strings.Index(got, "handbook.pdf") > strings.Index(got, "faq.md") {
		t.Error("chunks rendered out of order")
	}
	if !strings.Contains(got, "Requests need two days notice.") {
		t.Error("chunk content missing")
	}
}

func TestBuildTextContext_ClampsScores(t *testing.T) {
	chunks := []store.Candidate{
		{Filename: "a.md", Content: "x", Score: 3.7},
		{Filename: "b.md", Content: "y", Score: -0.2},
	}

	got := BuildTextContext(chunks)
	if !strings.Contains(got, "(relevance: 100%)") {
		t.Errorf("score above 1 should clamp to 100%%:\n%s", got)
	}
	if !strings.Contains(got, "(relevance: 0%)") {
		t.Errorf("negative score should clamp to 0%%:\n%s", got)
	}
}

func TestBuildImageContext(t *testing.T) {
	assets := []store.ImageAsset{
		{Filename: "report.pdf", Page: 7, Caption: "Quarterly revenue chart", Score: 0.9},
		{Filename: "report.pdf", Page: 9, Caption: "", Score: 0.5},
	}

	got := BuildImageContext(assets)

	if !strings.HasPrefix(got, "[Relevant images for context:]") {
		t.Errorf("missing header, got %q", got)
	}
	if !strings.Contains(got, "--- Source 1: report.pdf (page 7, relevance: 90%) ---") {
		t.Errorf("block header wrong:\n%s", got)
	}
	if !strings.Contains(got, "Quarterly revenue chart") {
		t.Error("caption missing")
	}
	if !strings.Contains(got, "(image without caption)") {
		t.Error("missing caption placeholder")
	}
}

func TestBuildImageContext_Empty(t *testing.T) {
	if got := BuildImageContext(nil); got != "" {
		t.Errorf("BuildImageContext(nil) = %q, want empty", got)
	}
}
