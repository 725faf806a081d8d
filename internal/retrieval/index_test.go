package retrieval

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/storage"
)

// fakeEngine embeds text deterministically and counts calls so tests can
// assert which refreshes hit the persisted vector cache.
type fakeEngine struct {
	mu         sync.Mutex
	embedCalls int
	vectors    map[string][]float32
	err        error
}

func (f *fakeEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEngine) Chat(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeEngine) IsRunning(context.Context) bool               { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool        { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func saveGolden(t *testing.T, store *storage.Store, id, text string, curatedAt time.Time) {
	t.Helper()
	err := store.SaveGolden(storage.GoldenExample{
		ID:           id,
		RedactedText: text,
		ContentHash:  storage.HashPayload([]byte(text)),
		TriageJSON:   `{"case_type":"email_delivery"}`,
		CuratedAt:    curatedAt,
	})
	if err != nil {
		t.Fatalf("saving golden %s: %v", id, err)
	}
}

func TestRefreshEmbedsOnlyStaleEntries(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	saveGolden(t, store, "g-1", "mail to contoso.com bounces", time.Now())
	saveGolden(t, store, "g-2", "imports stuck in queue", time.Now())

	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if eng.embedCalls != 2 {
		t.Fatalf("expected 2 embed calls on first refresh, got %d", eng.embedCalls)
	}
	if idx.Size() != 2 {
		t.Fatalf("expected 2 entries, got %d", idx.Size())
	}

	// Second refresh must serve both vectors from the store.
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if eng.embedCalls != 2 {
		t.Fatalf("expected cached refresh to add no embed calls, got %d total", eng.embedCalls)
	}
}

func TestRefreshSurfacesEmbedFailure(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{err: errors.New("backend down")}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	saveGolden(t, store, "g-1", "case text", time.Now())
	if err := idx.Refresh(context.Background()); err == nil {
		t.Fatal("expected error when the embedding backend fails")
	}
	if idx.Size() != 0 {
		t.Fatalf("failed refresh must not swap entries, got %d", idx.Size())
	}
}

func TestRefreshReembedsAfterRecuration(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	saveGolden(t, store, "g-1", "case text", time.Now())
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Promoting the same content again clears the stored vector.
	saveGolden(t, store, "g-1", "case text", time.Now())
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after recuration: %v", err)
	}
	if eng.embedCalls != 2 {
		t.Fatalf("expected re-embed after content change, got %d calls", eng.embedCalls)
	}
}

func TestRefreshReembedsOnModelChange(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{}
	saveGolden(t, store, "g-1", "some case text", time.Now())

	if err := NewIndex(store, NewEmbedder(eng, "model-a")).Refresh(context.Background()); err != nil {
		t.Fatalf("refresh with model-a: %v", err)
	}
	if err := NewIndex(store, NewEmbedder(eng, "model-b")).Refresh(context.Background()); err != nil {
		t.Fatalf("refresh with model-b: %v", err)
	}
	if eng.embedCalls != 2 {
		t.Fatalf("expected embed per model, got %d calls", eng.embedCalls)
	}

	// model-b vectors are now persisted; a fresh model-b index is a cache hit.
	if err := NewIndex(store, NewEmbedder(eng, "model-b")).Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh with model-b: %v", err)
	}
	if eng.embedCalls != 2 {
		t.Fatalf("expected cache hit for persisted model-b vector, got %d calls", eng.embedCalls)
	}
}

func TestRetrieveOrdersByScoreThenRecency(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{vectors: map[string][]float32{
		"query":   {1, 0, 0},
		"close":   {1, 0.2, 0},
		"far":     {0, 1, 0},
		"exact-a": {1, 0, 0},
		"exact-b": {2, 0, 0},
	}}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	saveGolden(t, store, "g-far", "far", older)
	saveGolden(t, store, "g-close", "close", older)
	saveGolden(t, store, "g-exact-a", "exact-a", older)
	saveGolden(t, store, "g-exact-b", "exact-b", newer)

	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	matches, err := idx.Retrieve(context.Background(), "query", 3, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches above threshold, got %d", len(matches))
	}
	// Both exact matches score 1.0; the newer curation wins the tie.
	if matches[0].Example.Text != "exact-b" {
		t.Errorf("expected newest exact match first, got %q", matches[0].Example.Text)
	}
	if matches[1].Example.Text != "exact-a" {
		t.Errorf("expected older exact match second, got %q", matches[1].Example.Text)
	}
	if matches[2].Example.Text != "close" {
		t.Errorf("expected near match third, got %q", matches[2].Example.Text)
	}
	for _, m := range matches {
		if m.Example.Text == "far" {
			t.Error("orthogonal vector should be filtered by threshold")
		}
	}
}

func TestRetrieveRespectsK(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	for _, id := range []string{"g-1", "g-2", "g-3"} {
		saveGolden(t, store, id, "text "+id, time.Now())
	}
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	matches, err := idx.Retrieve(context.Background(), "anything", 2, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	matches, err = idx.Retrieve(context.Background(), "anything", 0, 0)
	if err != nil {
		t.Fatalf("retrieve with k=0: %v", err)
	}
	if matches != nil {
		t.Fatalf("expected nil matches for k=0, got %d", len(matches))
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	store := openTestStore(t)
	eng := &fakeEngine{err: errors.New("backend down")}
	idx := NewIndex(store, NewEmbedder(eng, "embed-model"))

	if _, err := idx.Retrieve(context.Background(), "query", 3, 0); err == nil {
		t.Fatal("expected error when the embedding backend fails")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d floats, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("float %d: expected %v, got %v", i, in[i], out[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	if got := cosine(a, []float32{1, 0}, norm(a)); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("expected identical vectors to score 1, got %v", got)
	}
	if got := cosine(a, []float32{0, 1}, norm(a)); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("expected orthogonal vectors to score 0, got %v", got)
	}
	if got := cosine(a, []float32{0, 0}, norm(a)); got != 0 {
		t.Errorf("expected zero vector to score 0, got %v", got)
	}
	if got := cosine(a, []float32{1, 0, 0}, norm(a)); got != 0 {
		t.Errorf("expected dimension mismatch to score 0, got %v", got)
	}
}
