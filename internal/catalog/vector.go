package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const vectorCollection = "clips"

var errTextEmbedding = errors.New("text embedding is not supported: supply vectors")

// VectorIndex scores clip embeddings against a hint by cosine similarity.
// All vectors in one index share a dimension.
type VectorIndex struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	dims       int
}

// NewVectorIndex opens an index. An empty dir keeps it in memory only.
func NewVectorIndex(dir string) (*VectorIndex, error) {
	var db *chromem.DB
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(dir, "chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(context.Context, string) ([]float32, error) {
		return nil, errTextEmbedding
	}
	collection, err := db.GetOrCreateCollection(vectorCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &VectorIndex{db: db, collection: collection}, nil
}

// restoreDims sets the dimension of a persisted index whose vectors were
// written by an earlier run.
func (v *VectorIndex) restoreDims(d int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dims == 0 {
		v.dims = d
	}
}

// Dims returns the embedding dimension, or 0 for an empty index.
func (v *VectorIndex) Dims() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dims
}

// Count returns the number of indexed clips.
func (v *VectorIndex) Count() int {
	return v.collection.Count()
}

// Add indexes or replaces the embedding of clip id. Empty and all-zero
// vectors are ignored.
func (v *VectorIndex) Add(ctx context.Context, id string, embedding []float32) error {
	if !nonZero(embedding) {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dims != 0 && len(embedding) != v.dims {
		return fmt.Errorf("clip %s: embedding has %d dimensions, index uses %d", id, len(embedding), v.dims)
	}
	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), embedding...),
		Metadata:  map[string]string{"clip_id": id},
	}
	if err := v.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index clip %s: %w", id, err)
	}
	v.dims = len(embedding)
	return nil
}

// Remove drops clip id from the index.
func (v *VectorIndex) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collection.Delete(ctx, nil, nil, id)
}

// Similarities returns the cosine similarity of every indexed clip to hint.
// A hint of the wrong dimension matches nothing.
func (v *VectorIndex) Similarities(ctx context.Context, hint []float32) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := v.collection.Count()
	if n == 0 || len(hint) != v.dims || !nonZero(hint) {
		return map[string]float64{}, nil
	}
	res, err := v.collection.QueryEmbedding(ctx, hint, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	out := make(map[string]float64, len(res))
	for _, r := range res {
		out[r.ID] = float64(r.Similarity)
	}
	return out, nil
}

func nonZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return true
		}
	}
	return false
}
