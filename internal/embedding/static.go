package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// StaticProvider produces deterministic embeddings without calling any
// external service. Unregistered texts get a hash-derived vector whose
// buckets are seeded per token, so texts sharing tokens land near each other.
// Tests and local runs can Register canned vectors for exact texts to place
// chosen documents close to a query regardless of token overlap.
type StaticProvider struct {
	dims int

	mu     sync.RWMutex
	canned map[string][]float32
}

// NewStaticProvider creates a deterministic provider with the given
// dimensionality
func NewStaticProvider(dims int) *StaticProvider {
	return &StaticProvider{
		dims:   dims,
		canned: make(map[string][]float32),
	}
}

// Register pins the embedding for an exact text. The vector is copied and
// normalized to unit norm.
func (p *StaticProvider) Register(text string, vec []float32) {
	pinned := make([]float32, len(vec))
	copy(pinned, vec)
	Normalize(pinned)

	p.mu.Lock()
	p.canned[text] = pinned
	p.mu.Unlock()
}

// Embed returns the registered vector for the text, or a hash-derived one
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	pinned, ok := p.canned[text]
	p.mu.RUnlock()
	if ok {
		out := make([]float32, len(pinned))
		copy(out, pinned)
		return out, nil
	}

	vec := make([]float32, p.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		seed := h.Sum64()
		// Spread each token over a handful of buckets so related texts
		// overlap without the vector collapsing to a single spike.
		for i := 0; i < 4; i++ {
			idx := int((seed >> (i * 13)) % uint64(p.dims))
			vec[idx] += 1
		}
	}
	return Normalize(vec), nil
}

// Dimensions returns the configured dimensionality
func (p *StaticProvider) Dimensions() int {
	return p.dims
}

// Name identifies the provider
func (p *StaticProvider) Name() string {
	return "static"
}
