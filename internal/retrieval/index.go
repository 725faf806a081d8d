package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/caseflow/internal/storage"
	"github.com/kalambet/caseflow/internal/triage"
)

// GoldenStore is the persistence surface the index needs.
type GoldenStore interface {
	ListGoldens() ([]storage.GoldenExample, error)
	SetGoldenEmbedding(id string, embedding []byte, model string) error
}

// Match is a golden example scored against a query.
type Match struct {
	Example   triage.Example
	Score     float32
	CuratedAt time.Time
}

type indexEntry struct {
	id        string
	text      string
	triage    string
	vector    []float32
	curatedAt time.Time
}

// Index holds the embedded golden examples in memory and refreshes them
// from the store. Refresh re-embeds only examples whose stored vector is
// missing or was produced by a different model.
type Index struct {
	store    GoldenStore
	embedder *Embedder

	mu      sync.RWMutex
	entries []indexEntry
}

func NewIndex(store GoldenStore, embedder *Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// Refresh reloads goldens from the store, embedding any whose cached
// vector is stale, and swaps the in-memory entry set. Single writer at
// a time; readers keep serving the previous set until the swap.
func (idx *Index) Refresh(ctx context.Context) error {
	goldens, err := idx.store.ListGoldens()
	if err != nil {
		return fmt.Errorf("listing golden examples: %w", err)
	}

	model := idx.embedder.Model()
	entries := make([]indexEntry, 0, len(goldens))
	var stale []int
	for _, g := range goldens {
		var vec []float32
		if len(g.Embedding) > 0 && g.EmbedModel == model {
			vec, err = decodeFloat32s(g.Embedding)
			if err != nil {
				return fmt.Errorf("decoding embedding for golden %s: %w", g.ID, err)
			}
		} else {
			stale = append(stale, len(entries))
		}
		entries = append(entries, indexEntry{
			id:        g.ID,
			text:      g.RedactedText,
			triage:    g.TriageJSON,
			vector:    vec,
			curatedAt: g.CuratedAt,
		})
	}

	// Stale vectors are embedded as one batch, then persisted so the next
	// refresh serves them from the store.
	if len(stale) > 0 {
		texts := make([]string, len(stale))
		for i, pos := range stale {
			texts[i] = entries[pos].text
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding golden examples: %w", err)
		}
		for i, pos := range stale {
			entries[pos].vector = vecs[i]
			if err := idx.store.SetGoldenEmbedding(entries[pos].id, encodeFloat32s(vecs[i]), model); err != nil {
				return fmt.Errorf("persisting embedding for golden %s: %w", entries[pos].id, err)
			}
		}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()
	return nil
}

// Retrieve embeds the query text and returns up to k examples scoring at
// or above threshold, best first. Ties go to the most recently curated.
func (idx *Index) Retrieve(ctx context.Context, text string, k int, threshold float32) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	query, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(query)

	idx.mu.RLock()
	entries := idx.entries
	idx.mu.RUnlock()

	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		score := cosine(query, e.vector, queryNorm)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{
			Example:   triage.Example{Text: e.text, TriageJSON: e.triage},
			Score:     score,
			CuratedAt: e.curatedAt,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CuratedAt.After(matches[j].CuratedAt)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Size reports how many examples the index currently holds.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
