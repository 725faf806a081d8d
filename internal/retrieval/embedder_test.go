package retrieval

import (
	"context"
	"errors"
	"testing"
)

func TestEmbedBatch(t *testing.T) {
	eng := &fakeEngine{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}}
	e := NewEmbedder(eng, "embed-model")

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embedding batch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Error("vectors returned out of order")
	}

	vecs, err = e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("expected nil result for empty input, got %v, %v", vecs, err)
	}
}

func TestEmbedBatchError(t *testing.T) {
	eng := &fakeEngine{err: errors.New("backend down")}
	e := NewEmbedder(eng, "embed-model")

	if _, err := e.EmbedBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error when the backend fails")
	}
}
