// Package knowledge holds the typology knowledge base: reference SAR templates,
// tiered risk keywords, typology indicators and default escalation rules.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

//go:embed knowledge.yaml
var embedded []byte

// ErrInvalidKnowledge is returned when a knowledge document fails validation.
var ErrInvalidKnowledge = errors.New("invalid knowledge base")

type document struct {
	Typologies []struct {
		Label      string   `yaml:"label"`
		Indicators []string `yaml:"indicators"`
	} `yaml:"typologies"`
	Keywords   domain.KeywordSet          `yaml:"keywords"`
	Templates  []domain.ReferenceTemplate `yaml:"templates"`
	Escalation struct {
		DefaultActions []string                `yaml:"default_actions"`
		Rules          []domain.EscalationRule `yaml:"rules"`
	} `yaml:"escalation"`
}

// Base is the immutable knowledge base. All accessors return copies.
type Base struct {
	templates      []domain.ReferenceTemplate
	byID           map[string]int
	keywords       domain.KeywordSet
	typologies     []string
	rules          []domain.EscalationRule
	defaultActions []string
}

var (
	defaultOnce sync.Once
	defaultBase *Base
	defaultErr  error
)

// Load returns the embedded knowledge base, parsed once per process.
func Load() (*Base, error) {
	defaultOnce.Do(func() {
		defaultBase, defaultErr = Parse(embedded)
	})
	return defaultBase, defaultErr
}

// MustLoad is like Load but panics on error. The embedded document is validated by tests.
func MustLoad() *Base {
	b, err := Load()
	if err != nil {
		panic(err)
	}
	return b
}

// Parse decodes and validates a knowledge document.
func Parse(data []byte) (*Base, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKnowledge, err)
	}

	if len(doc.Typologies) != len(domain.Typologies) {
		return nil, fmt.Errorf("%w: expected %d typologies, got %d",
			ErrInvalidKnowledge, len(domain.Typologies), len(doc.Typologies))
	}

	b := &Base{
		byID:           make(map[string]int, len(doc.Templates)),
		keywords:       doc.Keywords,
		rules:          doc.Escalation.Rules,
		defaultActions: doc.Escalation.DefaultActions,
	}
	b.keywords.Typology = make(map[string][]string, len(doc.Typologies))

	for i, t := range doc.Typologies {
		if t.Label != domain.Typologies[i] {
			return nil, fmt.Errorf("%w: typology %d is %q, expected %q",
				ErrInvalidKnowledge, i, t.Label, domain.Typologies[i])
		}
		if len(t.Indicators) == 0 {
			return nil, fmt.Errorf("%w: typology %q has no indicators", ErrInvalidKnowledge, t.Label)
		}
		b.typologies = append(b.typologies, t.Label)
		b.keywords.Typology[t.Label] = lowerAll(t.Indicators)
	}

	b.keywords.High = lowerAll(b.keywords.High)
	b.keywords.Medium = lowerAll(b.keywords.Medium)
	b.keywords.Low = lowerAll(b.keywords.Low)

	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("%w: no templates", ErrInvalidKnowledge)
	}
	for i, t := range doc.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: template %d has no id", ErrInvalidKnowledge, i)
		}
		if _, dup := b.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate template id %s", ErrInvalidKnowledge, t.ID)
		}
		if _, ok := b.keywords.Typology[t.Typology]; !ok {
			return nil, fmt.Errorf("%w: template %s has unknown typology %q", ErrInvalidKnowledge, t.ID, t.Typology)
		}
		t.Body = strings.TrimSpace(t.Body)
		b.byID[t.ID] = len(b.templates)
		b.templates = append(b.templates, t)
	}

	for _, r := range b.rules {
		if r.ID == "" || r.Expression == "" {
			return nil, fmt.Errorf("%w: escalation rule missing id or expression", ErrInvalidKnowledge)
		}
	}

	return b, nil
}

// Templates returns the reference templates in document order.
func (b *Base) Templates() []domain.ReferenceTemplate {
	return append([]domain.ReferenceTemplate(nil), b.templates...)
}

// First returns the first reference template, used as the retrieval fallback.
func (b *Base) First() domain.ReferenceTemplate {
	return b.templates[0]
}

// Template returns a template by ID.
func (b *Base) Template(id string) (domain.ReferenceTemplate, bool) {
	i, ok := b.byID[id]
	if !ok {
		return domain.ReferenceTemplate{}, false
	}
	return b.templates[i], true
}

// Keywords returns a copy of the keyword set.
func (b *Base) Keywords() domain.KeywordSet {
	ks := domain.KeywordSet{
		High:     append([]string(nil), b.keywords.High...),
		Medium:   append([]string(nil), b.keywords.Medium...),
		Low:      append([]string(nil), b.keywords.Low...),
		Typology: make(map[string][]string, len(b.keywords.Typology)),
	}
	for k, v := range b.keywords.Typology {
		ks.Typology[k] = append([]string(nil), v...)
	}
	return ks
}

// Typologies returns the typology labels in tie-break order.
func (b *Base) Typologies() []string {
	return append([]string(nil), b.typologies...)
}

// IsTypology reports whether label is a known typology or the general default.
func (b *Base) IsTypology(label string) bool {
	if label == domain.TypologyGeneral {
		return true
	}
	_, ok := b.keywords.Typology[label]
	return ok
}

// EscalationRules returns the default escalation rules.
func (b *Base) EscalationRules() []domain.EscalationRule {
	out := make([]domain.EscalationRule, len(b.rules))
	for i, r := range b.rules {
		r.Actions = append([]string(nil), r.Actions...)
		out[i] = r
	}
	return out
}

// DefaultActions returns the recommendation used when no escalation rule fires.
func (b *Base) DefaultActions() []string {
	return append([]string(nil), b.defaultActions...)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
