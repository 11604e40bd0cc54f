// Package retrieval selects the reference SAR templates most similar to a
// transaction description and formats them as generation context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/knowledge"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// DefaultTopK is the number of templates returned when k <= 0.
const DefaultTopK = 2

// IndexStore durably mirrors the template index. Upserts must be idempotent.
type IndexStore interface {
	UpsertTemplate(ctx context.Context, t domain.ReferenceTemplate) error
}

type entry struct {
	template domain.ReferenceTemplate
	vector   []float32
}

// Retriever is a nearest-neighbour index over the knowledge base templates.
// The index is built on first use; concurrent first callers wait for one build.
type Retriever struct {
	kb       *knowledge.Base
	embedder Embedder
	store    IndexStore
	logger   *slog.Logger

	mu      sync.Mutex
	built   bool
	entries []entry
	byID    map[string]int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEmbedder replaces the default hash embedder.
func WithEmbedder(e Embedder) Option {
	return func(r *Retriever) { r.embedder = e }
}

// WithStore mirrors the index into a durable store on build.
func WithStore(s IndexStore) Option {
	return func(r *Retriever) { r.store = s }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a retriever over the knowledge base.
func New(kb *knowledge.Base, opts ...Option) *Retriever {
	r := &Retriever{
		kb:       kb,
		embedder: NewHashEmbedder(),
		logger:   slog.Default(),
		byID:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build indexes every template. Calling it again re-indexes in place keyed by
// template ID, so entries and stored rows are never duplicated.
func (r *Retriever) Build(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(ctx)
}

func (r *Retriever) buildLocked(ctx context.Context) error {
	for _, t := range r.kb.Templates() {
		vec, err := r.embedder.Embed(ctx, t.Title+"\n"+t.Body)
		if err != nil {
			return fmt.Errorf("embed template %s: %w", t.ID, err)
		}
		if r.store != nil {
			if err := r.store.UpsertTemplate(ctx, t); err != nil {
				return fmt.Errorf("store template %s: %w", t.ID, err)
			}
		}
		e := entry{template: t, vector: vec}
		if i, ok := r.byID[t.ID]; ok {
			r.entries[i] = e
		} else {
			r.byID[t.ID] = len(r.entries)
			r.entries = append(r.entries, e)
		}
	}
	r.built = true
	return nil
}

func (r *Retriever) ensureBuilt(ctx context.Context) ([]entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.built {
		if err := r.buildLocked(ctx); err != nil {
			return nil, err
		}
	}
	return r.entries, nil
}

// Size returns the number of indexed templates, zero before the first build.
func (r *Retriever) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Retrieve returns the k templates most similar to text. It never fails: any
// error yields the first knowledge base template with Fallback set.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int) domain.Retrieval {
	if k <= 0 {
		k = DefaultTopK
	}

	hits, err := r.search(ctx, text, k)
	if err != nil {
		r.logger.Warn("template retrieval failed, using fallback template", "error", err)
		metrics.RetrievalFallbacks.Inc()
		first := r.kb.First()
		templates := []domain.RetrievedTemplate{{Template: first}}
		return domain.Retrieval{
			Templates: templates,
			Context:   FormatContext(templates),
			Fallback:  true,
			Error:     err.Error(),
		}
	}

	return domain.Retrieval{
		Templates: hits,
		Context:   FormatContext(hits),
	}
}

func (r *Retriever) search(ctx context.Context, text string, k int) ([]domain.RetrievedTemplate, error) {
	entries, err := r.ensureBuilt(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("template index is empty")
	}

	query, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits := make([]domain.RetrievedTemplate, len(entries))
	for i, e := range entries {
		hits[i] = domain.RetrievedTemplate{Template: e.template, Score: cosine(query, e.vector)}
	}
	// Stable sort keeps knowledge base order among equal scores.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	return hits[:min(k, len(hits))], nil
}

// FormatContext renders retrieved templates as reference blocks for the prompt.
func FormatContext(templates []domain.RetrievedTemplate) string {
	var b strings.Builder
	for _, t := range templates {
		fmt.Fprintf(&b, "\n\n--- REFERENCE TEMPLATE (%s) ---\n%s", t.Template.Typology, t.Template.Body)
	}
	return b.String()
}
