package vectorindex

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
)

// flatIndex is an exact inner-product index over L2-normalized vectors.
// Vectors are appended and never removed; a vector's position is its id.
type flatIndex struct {
	dimension int
	vectors   [][]float32
}

func newFlatIndex(dimension int) *flatIndex {
	return &flatIndex{dimension: dimension}
}

// add normalizes and appends a vector, returning its assigned position.
func (f *flatIndex) add(vector []float32) (int, error) {
	if len(vector) != f.dimension {
		return 0, fmt.Errorf("%w: got %d, index dimension is %d", ErrDimensionMismatch, len(vector), f.dimension)
	}
	f.vectors = append(f.vectors, normalize(vector))
	return len(f.vectors) - 1, nil
}

// scored pairs a vector id with its similarity to a query.
type scored struct {
	id    int
	score float64
}

// search returns up to k vector ids with inner-product similarity at or
// above threshold, ordered by descending score.
func (f *flatIndex) search(query []float32, k int, threshold float64) []scored {
	if len(f.vectors) == 0 || len(query) != f.dimension || k <= 0 {
		return nil
	}

	q := normalize(query)
	results := make([]scored, 0, k)
	for id, vector := range f.vectors {
		var dot float64
		for i := range vector {
			dot += float64(vector[i]) * float64(q[i])
		}
		if dot >= threshold {
			results = append(results, scored{id: id, score: dot})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].id < results[j].id
		}
		return results[i].score > results[j].score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (f *flatIndex) size() int {
	return len(f.vectors)
}

// normalize returns an L2-normalized copy of v. Zero vectors are returned
// as a zero copy so their inner product with anything is 0.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// flatIndexBlob is the persisted form of a flatIndex.
type flatIndexBlob struct {
	Dimension int
	Vectors   [][]float32
}

// encode serializes the index for blob storage.
func (f *flatIndex) encode() ([]byte, error) {
	var buf bytes.Buffer
	blob := flatIndexBlob{Dimension: f.dimension, Vectors: f.vectors}
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeFlatIndex restores an index from its persisted form.
func decodeFlatIndex(data []byte) (*flatIndex, error) {
	var blob flatIndexBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &flatIndex{dimension: blob.Dimension, vectors: blob.Vectors}, nil
}
