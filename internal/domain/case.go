package domain

import "time"

// Case status values.
const (
	CaseDraft    = "DRAFT"
	CaseApproved = "APPROVED"
	CaseRejected = "REJECTED"
)

// Audit log actions.
const (
	ActionGenerated = "GENERATED"
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
)

// HighRiskThreshold is the risk score at which a case counts as high risk.
const HighRiskThreshold = 70

// Case is a persisted SAR draft and its review state.
type Case struct {
	ID              string     `json:"id"`
	CustomerName    string     `json:"customer_name"`
	AccountNumber   string     `json:"account_number"`
	Transactions    string     `json:"transactions"`
	Narrative       string     `json:"sar_narrative"`
	EditedNarrative string     `json:"edited_narrative,omitempty"`
	Status          string     `json:"status"`
	RiskScore       int        `json:"risk_score"`
	Typology        string     `json:"typology"`
	Priority        string     `json:"priority"`
	Fallback        bool       `json:"fallback"`
	AnalystName     string     `json:"analyst_name"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	RejectReason    string     `json:"reject_reason,omitempty"`
}

// FinalNarrative returns the analyst edit if present, otherwise the generated narrative.
func (c *Case) FinalNarrative() string {
	if c.EditedNarrative != "" {
		return c.EditedNarrative
	}
	return c.Narrative
}

// AuditEntry is one row of the case audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Action    string    `json:"action"`
	Analyst   string    `json:"analyst"`
	Detail    string    `json:"detail"`
	DataUsed  string    `json:"data_used,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CaseStats summarizes the case book.
type CaseStats struct {
	Total    int `json:"total_cases"`
	Draft    int `json:"draft"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	HighRisk int `json:"high_risk"`
}
