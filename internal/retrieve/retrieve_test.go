package retrieve

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/korpusai/korpus/internal/log"
	"github.com/korpusai/korpus/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockSearcher lets each test script the two search halves.
type mockSearcher struct {
	vector  func(topK int, threshold float64) ([]store.Candidate, error)
	lexical func(topK int) ([]store.Candidate, error)
}

func (m *mockSearcher) VectorSearch(_ context.Context, _ store.Scope, _ []float32, topK int, threshold float64) ([]store.Candidate, error) {
	return m.vector(topK, threshold)
}

func (m *mockSearcher) LexicalSearch(_ context.Context, _ store.Scope, _ string, topK int) ([]store.Candidate, error) {
	return m.lexical(topK)
}

// mockEmbedder returns a fixed vector for any input.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func candidate(doc uuid.UUID, index int, content string) store.Candidate {
	return store.Candidate{
		ChunkID:    uuid.New(),
		DocumentID: doc,
		ChunkIndex: index,
		Filename:   "doc.md",
		Content:    content,
		Score:      0.8,
	}
}

func newTestRetriever(t *testing.T, s Searcher) *Retriever {
	t.Helper()
	r, err := New(s, &mockEmbedder{}, Options{TopK: 5, Threshold: 0.3}, log.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return r
}

func TestPlans(t *testing.T) {
	chatID := uuid.New()
	opts := Options{TopK: 5, Threshold: 0.3}

	tests := []struct {
		name   string
		scope  store.Scope
		intent Intent
		want   []Plan
	}{
		{
			name:   "conversation scope single wide pass",
			scope:  store.Scope{OwnerID: "u", ChatID: &chatID},
			intent: IntentFact,
			want:   []Plan{{TopK: 50, Threshold: 0}},
		},
		{
			name:   "global fact strict then looser",
			scope:  store.Scope{OwnerID: "u"},
			intent: IntentFact,
			want:   []Plan{{TopK: 5, Threshold: 0.3}, {TopK: 8, Threshold: 0.18}},
		},
		{
			name:   "global summary loose then unbounded",
			scope:  store.Scope{OwnerID: "u"},
			intent: IntentSummary,
			want:   []Plan{{TopK: 8, Threshold: 0.21}, {TopK: 12, Threshold: 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plans(tt.scope, tt.intent, opts)
			if len(got) != len(tt.want) {
				t.Fatalf("plans() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].TopK != tt.want[i].TopK {
					t.Errorf("plan %d TopK = %d, want %d", i, got[i].TopK, tt.want[i].TopK)
				}
				if diff := got[i].Threshold - tt.want[i].Threshold; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("plan %d Threshold = %g, want %g", i, got[i].Threshold, tt.want[i].Threshold)
				}
			}
		})
	}
}

func TestPlans_LargeTopKOverridesSummaryFloor(t *testing.T) {
	got := plans(store.Scope{OwnerID: "u"}, IntentSummary, Options{TopK: 20, Threshold: 0.3})
	if got[0].TopK != 20 || got[1].TopK != 20 {
		t.Errorf("summary plans should keep configured top_k when larger: %v", got)
	}
}

func TestRetrieve_FusionPrefersAgreement(t *testing.T) {
	doc := uuid.New()
	shared := candidate(doc, 0, "shared hit")
	vectorOnly := candidate(doc, 1, "vector only")
	lexicalOnly := candidate(doc, 2, "lexical only")

	s := &mockSearcher{
		vector: func(int, float64) ([]store.Candidate, error) {
			return []store.Candidate{vectorOnly, shared}, nil
		},
		lexical: func(int) ([]store.Candidate, error) {
			return []store.Candidate{lexicalOnly, shared}, nil
		},
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	// The chunk found by both halves outranks rank-0 single-list hits:
	// 1/62 + 1/62 > 1/61.
	if hits[0].Content != "shared hit" {
		t.Errorf("top hit = %q, want the chunk present in both lists", hits[0].Content)
	}
}

func TestRetrieve_FusionDeterministic(t *testing.T) {
	doc := uuid.New()
	a := candidate(doc, 0, "a")
	b := candidate(doc, 1, "b")

	s := &mockSearcher{
		vector:  func(int, float64) ([]store.Candidate, error) { return []store.Candidate{a, b}, nil },
		lexical: func(int) ([]store.Candidate, error) { return []store.Candidate{b, a}, nil },
	}
	r := newTestRetriever(t, s)

	first, err := r.Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("fusion order not deterministic: %v vs %v", first, again)
		}
	}
	// Symmetric ranks tie on fused score; document order breaks the tie.
	if first[0].ChunkIndex != 0 {
		t.Errorf("tie should break by chunk index, got index %d first", first[0].ChunkIndex)
	}
}

func TestRetrieve_LexicalFailureDegrades(t *testing.T) {
	doc := uuid.New()
	hit := candidate(doc, 0, "vector hit")

	s := &mockSearcher{
		vector: func(int, float64) ([]store.Candidate, error) {
			return []store.Candidate{hit}, nil
		},
		lexical: func(int) ([]store.Candidate, error) {
			return nil, errors.New("tsquery syntax error")
		},
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("Retrieve() should degrade, got error: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "vector hit" {
		t.Errorf("hits = %v, want vector results only", hits)
	}
}

func TestRetrieve_EmptyLexicalUsesVectorOnly(t *testing.T) {
	doc := uuid.New()
	first := candidate(doc, 0, "first")
	second := candidate(doc, 1, "second")

	s := &mockSearcher{
		vector: func(int, float64) ([]store.Candidate, error) {
			return []store.Candidate{first, second}, nil
		},
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	// Vector ordering must survive untouched when there is nothing to fuse.
	if len(hits) != 2 || hits[0].Content != "first" || hits[1].Content != "second" {
		t.Errorf("hits = %v, want vector order preserved", hits)
	}
}

func TestRetrieve_FallbackPass(t *testing.T) {
	doc := uuid.New()
	hit := candidate(doc, 0, "loose hit")
	var passes []float64

	s := &mockSearcher{
		vector: func(_ int, threshold float64) ([]store.Candidate, error) {
			passes = append(passes, threshold)
			if threshold >= 0.3 {
				return nil, nil // strict pass finds nothing
			}
			return []store.Candidate{hit}, nil
		},
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "loose hit" {
		t.Errorf("hits = %v, want fallback pass result", hits)
	}
	if len(passes) != 2 {
		t.Errorf("vector search ran %d times, want 2 (strict then fallback)", len(passes))
	}
}

func TestRetrieve_AllPlansEmpty(t *testing.T) {
	s := &mockSearcher{
		vector:  func(int, float64) ([]store.Candidate, error) { return nil, nil },
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact)
	if err != nil {
		t.Fatalf("empty retrieval is not an error, got: %v", err)
	}
	if hits != nil {
		t.Errorf("hits = %v, want nil", hits)
	}
}

func TestRetrieve_VectorErrorPropagates(t *testing.T) {
	s := &mockSearcher{
		vector: func(int, float64) ([]store.Candidate, error) {
			return nil, errors.New("connection refused")
		},
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}

	if _, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact); err == nil {
		t.Fatal("vector search failure should propagate")
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	s := &mockSearcher{
		vector:  func(int, float64) ([]store.Candidate, error) { t.Fatal("should not search"); return nil, nil },
		lexical: func(int) ([]store.Candidate, error) { t.Fatal("should not search"); return nil, nil },
	}

	hits, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "", IntentFact)
	if err != nil || hits != nil {
		t.Errorf("Retrieve(\"\") = (%v, %v), want (nil, nil)", hits, err)
	}
}

func TestRetrieve_EmbedderError(t *testing.T) {
	s := &mockSearcher{
		vector:  func(int, float64) ([]store.Candidate, error) { return nil, nil },
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}
	r, err := New(s, &mockEmbedder{err: errors.New("rate limited")}, Options{TopK: 5, Threshold: 0.3}, log.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact); err == nil {
		t.Fatal("embedding failure should propagate")
	}
}

func TestFuse_SelfFusionPreservesOrder(t *testing.T) {
	doc := uuid.New()
	list := []store.Candidate{
		candidate(doc, 0, "first"),
		candidate(doc, 1, "second"),
		candidate(doc, 2, "third"),
	}

	// Fusing a ranked list with itself doubles every score but must leave
	// the relative order untouched.
	fused := fuse(list, list)
	if !reflect.DeepEqual(fused, list) {
		t.Errorf("fuse(list, list) = %v, want the original order %v", fused, list)
	}
}

func TestRetrieve_EmitsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("shutting down tracer provider: %v", err)
		}
	})

	doc := uuid.New()
	s := &mockSearcher{
		vector: func(int, float64) ([]store.Candidate, error) {
			return []store.Candidate{candidate(doc, 0, "hit")}, nil
		},
		lexical: func(int) ([]store.Candidate, error) { return nil, nil },
	}

	if _, err := newTestRetriever(t, s).Retrieve(context.Background(), store.Scope{OwnerID: "u"}, "query", IntentFact); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	var span sdktrace.ReadOnlySpan
	for _, ended := range sr.Ended() {
		if ended.Name() == "korpus.retrieve" {
			span = ended
		}
	}
	if span == nil {
		t.Fatal("no korpus.retrieve span recorded")
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["retrieval.intent"].AsString(); got != string(IntentFact) {
		t.Errorf("retrieval.intent = %q", got)
	}
	if got := attrs["retrieval.hits"].AsInt64(); got != 1 {
		t.Errorf("retrieval.hits = %d, want 1", got)
	}
}
