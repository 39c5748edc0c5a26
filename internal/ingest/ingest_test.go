package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/korpusai/korpus/internal/chunk"
	"github.com/korpusai/korpus/internal/log"
	"github.com/korpusai/korpus/internal/store"
	"github.com/korpusai/korpus/internal/token"
)

// mockStore records pipeline calls per document.
type mockStore struct {
	docs        []*store.Document
	texts       map[uuid.UUID]string
	chunks      map[uuid.UUID][]store.NewChunk
	status      map[uuid.UUID]string
	errorMsg    map[uuid.UUID]string
	listErr     error
	replaceErr  error
	setTextErr  error
	getTextErrs map[uuid.UUID]error
}

func newMockStore() *mockStore {
	return &mockStore{
		texts:       make(map[uuid.UUID]string),
		chunks:      make(map[uuid.UUID][]store.NewChunk),
		status:      make(map[uuid.UUID]string),
		errorMsg:    make(map[uuid.UUID]string),
		getTextErrs: make(map[uuid.UUID]error),
	}
}

func (m *mockStore) ListDocuments(context.Context, store.Scope) ([]*store.Document, error) {
	return m.docs, m.listErr
}

func (m *mockStore) GetExtractedText(_ context.Context, id uuid.UUID) (string, error) {
	if err := m.getTextErrs[id]; err != nil {
		return "", err
	}
	return m.texts[id], nil
}

func (m *mockStore) SetExtractedText(_ context.Context, id uuid.UUID, text string) error {
	if m.setTextErr != nil {
		return m.setTextErr
	}
	m.texts[id] = text
	return nil
}

func (m *mockStore) ReplaceChunks(_ context.Context, docID uuid.UUID, chunks []store.NewChunk) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.chunks[docID] = chunks
	return nil
}

func (m *mockStore) MarkReady(_ context.Context, id uuid.UUID, chunkCount int) error {
	m.status[id] = store.StatusReady
	return nil
}

func (m *mockStore) MarkError(_ context.Context, id uuid.UUID, message string) error {
	m.status[id] = store.StatusError
	m.errorMsg[id] = message
	return nil
}

// mockEmbedder returns one fixed vector per text, or fails.
type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

func newTestProcessor(t *testing.T, docs DocumentStore, embedder Embedder) *Processor {
	t.Helper()
	p, err := NewProcessor(docs, chunk.New(token.Estimator{}), embedder,
		Options{ChunkSize: 100, ChunkOverlap: 10}, log.NewNop())
	if err != nil {
		t.Fatalf("NewProcessor() failed: %v", err)
	}
	return p
}

func TestProcessDocument(t *testing.T) {
	ms := newMockStore()
	docID := uuid.New()

	text := "# Guide\n\nFirst paragraph with some content.\n\n## Details\n\nSecond paragraph with more content."
	chunks, tokens, err := newTestProcessor(t, ms, &mockEmbedder{}).ProcessDocument(context.Background(), docID, text)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	if chunks == 0 || tokens == 0 {
		t.Errorf("counts = (%d, %d), want non-zero", chunks, tokens)
	}
	if ms.status[docID] != store.StatusReady {
		t.Errorf("status = %q, want ready", ms.status[docID])
	}
	if ms.texts[docID] != text {
		t.Error("extracted text not persisted")
	}

	stored := ms.chunks[docID]
	if len(stored) != chunks {
		t.Fatalf("stored %d chunks, reported %d", len(stored), chunks)
	}
	for i, c := range stored {
		if c.Index != i {
			t.Errorf("chunk %d has index %d, want contiguous ordering", i, c.Index)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
}

func TestProcessDocument_EmptyText(t *testing.T) {
	ms := newMockStore()
	docID := uuid.New()

	chunks, tokens, err := newTestProcessor(t, ms, &mockEmbedder{}).ProcessDocument(context.Background(), docID, "")
	if err != nil {
		t.Fatalf("empty document is not a pipeline failure, got: %v", err)
	}
	if chunks != 0 || tokens != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0)", chunks, tokens)
	}
	if ms.status[docID] != store.StatusError {
		t.Errorf("status = %q, want error", ms.status[docID])
	}
	if ms.errorMsg[docID] != "no text extracted" {
		t.Errorf("error message = %q", ms.errorMsg[docID])
	}
}

func TestProcessDocument_EmbeddingFailure(t *testing.T) {
	ms := newMockStore()
	docID := uuid.New()
	upstream := errors.New("openai API error 429: " + strings.Repeat("x", 500))

	_, _, err := newTestProcessor(t, ms, &mockEmbedder{err: upstream}).
		ProcessDocument(context.Background(), docID, "Some document content here.")
	if err == nil {
		t.Fatal("embedding failure should propagate")
	}
	if ms.status[docID] != store.StatusError {
		t.Errorf("status = %q, want error", ms.status[docID])
	}
	if len(ms.errorMsg[docID]) > maxErrorMessage {
		t.Errorf("persisted message length = %d, want at most %d", len(ms.errorMsg[docID]), maxErrorMessage)
	}
	if len(ms.chunks[docID]) != 0 {
		t.Error("no chunks should be stored on embedding failure")
	}
}

func TestProcessDocument_BatchesLargeDocuments(t *testing.T) {
	ms := newMockStore()
	me := &mockEmbedder{}

	// Enough distinct paragraphs to exceed one embedding batch.
	var sb strings.Builder
	for i := 0; i < embedBatchSize+20; i++ {
		sb.WriteString("Paragraph about topic number ")
		sb.WriteString(strings.Repeat("detail ", 30))
		sb.WriteString(".\n\n")
	}

	chunks, _, err := newTestProcessor(t, ms, me).ProcessDocument(context.Background(), uuid.New(), sb.String())
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	if chunks <= embedBatchSize {
		t.Skipf("chunker produced %d chunks, not enough to exercise batching", chunks)
	}
	if me.calls < 2 {
		t.Errorf("embedder called %d times, want batched calls", me.calls)
	}
}

func TestRechunkAll(t *testing.T) {
	ms := newMockStore()
	okID, emptyID, brokenID := uuid.New(), uuid.New(), uuid.New()
	ms.docs = []*store.Document{
		{ID: okID, Filename: "ok.md"},
		{ID: emptyID, Filename: "empty.md"},
		{ID: brokenID, Filename: "broken.md"},
	}
	ms.texts[okID] = "# Doc\n\nReal content to re-chunk."
	ms.texts[emptyID] = ""
	ms.getTextErrs[brokenID] = errors.New("row corrupted")

	var progressCalls int
	result, err := newTestProcessor(t, ms, &mockEmbedder{}).
		RechunkAll(context.Background(), store.Scope{OwnerID: "u"}, func(done, total int) {
			progressCalls++
			if total != 3 {
				t.Errorf("progress total = %d, want 3", total)
			}
		})
	if err != nil {
		t.Fatalf("RechunkAll() error = %v", err)
	}

	if result.Processed != 1 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 processed, 1 skipped, 1 failed", result)
	}
	if progressCalls != 3 {
		t.Errorf("progress called %d times, want 3", progressCalls)
	}
	if ms.status[okID] != store.StatusReady {
		t.Errorf("healthy document status = %q, want ready", ms.status[okID])
	}
}

func TestRechunkAll_ListFailure(t *testing.T) {
	ms := newMockStore()
	ms.listErr = errors.New("connection refused")

	if _, err := newTestProcessor(t, ms, &mockEmbedder{}).
		RechunkAll(context.Background(), store.Scope{OwnerID: "u"}, nil); err == nil {
		t.Fatal("listing failure should propagate")
	}
}

func TestRechunkAll_ContextCancel(t *testing.T) {
	ms := newMockStore()
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ms.docs = append(ms.docs, &store.Document{ID: id})
		ms.texts[id] = "content"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestProcessor(t, ms, &mockEmbedder{}).RechunkAll(ctx, store.Scope{OwnerID: "u"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.Processed != 0 {
		t.Errorf("no documents should process after cancellation, got %d", result.Processed)
	}
}

func TestTruncateError(t *testing.T) {
	long := errors.New(strings.Repeat("x", 2000))
	if got := TruncateError(long); len(got) != maxErrorMessage {
		t.Errorf("len = %d, want %d", len(got), maxErrorMessage)
	}

	short := errors.New("upstream refused")
	if got := TruncateError(short); got != "upstream refused" {
		t.Errorf("short message altered: %q", got)
	}
}

func TestProcessDocument_EmitsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("shutting down tracer provider: %v", err)
		}
	})

	ms := newMockStore()
	docID := uuid.New()
	text := "# Guide\n\nA paragraph that produces at least one chunk."

	chunks, _, err := newTestProcessor(t, ms, &mockEmbedder{}).ProcessDocument(context.Background(), docID, text)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	var span sdktrace.ReadOnlySpan
	for _, ended := range sr.Ended() {
		if ended.Name() == "korpus.process_document" {
			span = ended
		}
	}
	if span == nil {
		t.Fatal("no korpus.process_document span recorded")
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["document.id"].AsString(); got != docID.String() {
		t.Errorf("document.id = %q, want %q", got, docID)
	}
	if got := attrs["document.chunks"].AsInt64(); got != int64(chunks) {
		t.Errorf("document.chunks = %d, want %d", got, chunks)
	}
}
