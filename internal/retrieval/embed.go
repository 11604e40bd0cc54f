package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is a feature-hashing bag of words embedder. Unigrams and bigrams
// are hashed into Dim buckets and the vector is L2 normalized.
type HashEmbedder struct {
	Dim int
}

// DefaultDim is the vector length used by NewHashEmbedder.
const DefaultDim = 1024

// NewHashEmbedder creates a HashEmbedder with DefaultDim buckets.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dim: DefaultDim}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.Dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		vec[h.bucket(tok)]++
		if i > 0 {
			vec[h.bucket(tokens[i-1]+" "+tok)] += 0.5
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) bucket(s string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return int(f.Sum32() % uint32(h.Dim))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"by": {}, "for": {}, "from": {}, "with": {}, "is": {}, "was": {}, "were": {},
	"at": {}, "as": {}, "or": {}, "be": {}, "has": {}, "have": {}, "this": {}, "that": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop || len(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// cosine assumes normalized inputs of equal length.
func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
