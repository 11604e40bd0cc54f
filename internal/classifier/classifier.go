// Package classifier scores transaction text for AML risk and detects the
// dominant typology by keyword matching against the knowledge base.
package classifier

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/knowledge"
)

// FloorPolicy decides when the minimum risk score applies.
type FloorPolicy string

const (
	// FloorUnconditional floors every classification. Text reaching the
	// pipeline has already been flagged for SAR consideration.
	FloorUnconditional FloorPolicy = "unconditional"

	// FloorOnMatch floors only when at least one keyword or indicator matched.
	FloorOnMatch FloorPolicy = "on_match"
)

// ParseFloorPolicy converts a config value into a FloorPolicy.
// An empty value selects FloorUnconditional.
func ParseFloorPolicy(s string) (FloorPolicy, error) {
	switch FloorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FloorUnconditional:
		return FloorUnconditional, nil
	case FloorOnMatch:
		return FloorOnMatch, nil
	default:
		return "", fmt.Errorf("unknown floor policy %q", s)
	}
}

// Weights are the additive scoring parameters.
type Weights struct {
	High   int
	Medium int
	Low    int // subtracted per low-risk match
	Floor  int
	Cap    int
}

// DefaultWeights returns the standard tier weights.
func DefaultWeights() Weights {
	return Weights{High: 8, Medium: 4, Low: 2, Floor: 30, Cap: 100}
}

// Config configures a Classifier.
type Config struct {
	Weights     Weights
	FloorPolicy FloorPolicy
}

// Classifier is a deterministic keyword classifier. It is safe for concurrent use.
type Classifier struct {
	keywords   domain.KeywordSet
	typologies []string
	weights    Weights
	policy     FloorPolicy
}

// New creates a classifier over the knowledge base keywords.
func New(kb *knowledge.Base, cfg Config) *Classifier {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.FloorPolicy == "" {
		cfg.FloorPolicy = FloorUnconditional
	}
	return &Classifier{
		keywords:   kb.Keywords(),
		typologies: kb.Typologies(),
		weights:    cfg.Weights,
		policy:     cfg.FloorPolicy,
	}
}

// Policy returns the configured floor policy.
func (c *Classifier) Policy() FloorPolicy {
	return c.policy
}

// Classify computes the risk score and typology for the text.
// It is total: any input, including empty text, yields a valid result.
func (c *Classifier) Classify(text string) domain.Classification {
	lower := strings.ToLower(text)

	result := domain.Classification{
		Typology: domain.TypologyGeneral,
		Hits: map[domain.RiskTier][]string{
			domain.TierHigh:   matches(lower, c.keywords.High),
			domain.TierMedium: matches(lower, c.keywords.Medium),
			domain.TierLow:    matches(lower, c.keywords.Low),
		},
	}

	score := len(result.Hits[domain.TierHigh])*c.weights.High +
		len(result.Hits[domain.TierMedium])*c.weights.Medium
	for range result.Hits[domain.TierLow] {
		score = max(0, score-c.weights.Low)
	}
	score = min(score, c.weights.Cap)
	result.RawScore = score

	// Strict maximum; ties keep the earlier typology.
	best := 0
	for _, typology := range c.typologies {
		hits := matches(lower, c.keywords.Typology[typology])
		if len(hits) > best {
			best = len(hits)
			result.Typology = typology
			result.TypologyHits = hits
		}
	}

	matched := best > 0 ||
		len(result.Hits[domain.TierHigh]) > 0 ||
		len(result.Hits[domain.TierMedium]) > 0 ||
		len(result.Hits[domain.TierLow]) > 0

	if c.policy == FloorUnconditional || matched {
		if score < c.weights.Floor {
			score = c.weights.Floor
			result.FloorApplied = true
		}
	}

	result.RiskScore = score
	return result
}

func matches(text string, terms []string) []string {
	hits := []string{}
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits = append(hits, term)
		}
	}
	return hits
}
