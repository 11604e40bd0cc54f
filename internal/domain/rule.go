package domain

// EscalationRule is a CEL-backed recommendation rule.
type EscalationRule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// CEL expression returning bool
	Expression string `json:"expression" yaml:"expression"`

	// Priority assigned when the rule fires
	Priority string `json:"priority" yaml:"priority"`

	// Actions recommended to the analyst when the rule fires
	Actions []string `json:"actions" yaml:"actions"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// EscalationFacts are the variables exposed to escalation rules.
type EscalationFacts struct {
	RiskScore         int
	Typology          string
	HighHits          int
	MediumHits        int
	LowHits           int
	PriorCases        int
	TransactionLength int
}
