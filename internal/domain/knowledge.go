package domain

// Typology labels. The order of Typologies is the tie-break order used by the classifier.
const (
	TypologyLayering        = "Money Laundering - Layering"
	TypologyStructuring     = "Structuring / Smurfing"
	TypologyAccountTakeover = "Account Takeover Fraud"
	TypologyTradeBased      = "Trade-Based Money Laundering"
	TypologyTerrorist       = "Terrorist Financing"
	TypologyGeneral         = "General Suspicious Activity"
)

// Typologies lists the known typologies in tie-break order. TypologyGeneral is not included.
var Typologies = []string{
	TypologyLayering,
	TypologyStructuring,
	TypologyAccountTakeover,
	TypologyTradeBased,
	TypologyTerrorist,
}

// ReferenceTemplate is an exemplar SAR narrative for one typology.
type ReferenceTemplate struct {
	ID       string `json:"id" yaml:"id"`
	Typology string `json:"typology" yaml:"typology"`
	Title    string `json:"title" yaml:"title"`
	Body     string `json:"body" yaml:"body"`
}

// RiskTier names a keyword tier.
type RiskTier string

const (
	TierHigh   RiskTier = "high"
	TierMedium RiskTier = "medium"
	TierLow    RiskTier = "low"
)

// KeywordSet holds the tiered risk keywords and the per-typology indicator terms.
type KeywordSet struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`

	// Typology maps a typology label to its ordered indicator terms.
	Typology map[string][]string `yaml:"-"`
}
