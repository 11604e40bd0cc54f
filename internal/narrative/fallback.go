package narrative

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var genericRedFlags = []string{
	"Transaction pattern inconsistent with customer profile",
	"Unusual velocity of transactions detected",
	"Transaction amounts and counterparties raise AML concerns",
	"No apparent legitimate business purpose identified",
}

// Fallback renders the deterministic narrative used when no backend output is
// available. It always contains RequiredSections in order.
func Fallback(req domain.GenerateRequest, cls domain.Classification, esc domain.Escalation) string {
	var b strings.Builder

	b.WriteString(RequiredSections[0] + "\n")
	fmt.Fprintf(&b, "Customer Name: %s\n", req.CustomerName)
	fmt.Fprintf(&b, "Account Number: %s\n", req.AccountNumber)
	b.WriteString("This SAR has been raised based on automated pattern analysis of account activity.\n")
	b.WriteString("The customer's transaction behaviour has deviated significantly from their established profile.\n\n")

	b.WriteString(RequiredSections[1] + "\n")
	b.WriteString("The following suspicious transactions have been identified:\n")
	b.WriteString(strings.TrimSpace(req.Transactions))
	b.WriteString("\n\n")

	b.WriteString(RequiredSections[2] + "\n")
	b.WriteString("Analysis of the account activity reveals patterns inconsistent with the customer's\n")
	b.WriteString("known financial profile and stated purpose of account. The transaction pattern\n")
	b.WriteString("suggests deliberate structuring or layering of funds inconsistent with legitimate\n")
	b.WriteString("business or personal activity. The velocity, volume and nature of transactions\n")
	b.WriteString("observed over the reporting period raise significant concerns.\n\n")

	b.WriteString(RequiredSections[3] + "\n")
	fmt.Fprintf(&b, "Detected Typology: %s\n", cls.Typology)
	if len(cls.TypologyHits) > 0 {
		fmt.Fprintf(&b, "Matched indicators: %s\n", strings.Join(cls.TypologyHits, ", "))
	}
	b.WriteString("This activity aligns with FATF-recognized money laundering/fraud typologies\n")
	b.WriteString("involving layering of funds through multiple transactions to obscure the origin\n")
	b.WriteString("of funds and evade detection thresholds.\n\n")

	b.WriteString(RequiredSections[4] + "\n")
	n := 0
	for _, tier := range []domain.RiskTier{domain.TierHigh, domain.TierMedium} {
		for _, term := range cls.Hits[tier] {
			n++
			fmt.Fprintf(&b, "%d. Risk indicator present (%s risk): %s\n", n, tier, term)
		}
	}
	for _, flag := range genericRedFlags {
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, flag)
	}
	fmt.Fprintf(&b, "%d. Pattern matches known financial crime typology: %s\n\n", n+1, cls.Typology)

	b.WriteString(RequiredSections[5] + "\n")
	b.WriteString("RECOMMENDED ACTION: File Suspicious Activity Report immediately.\n")
	fmt.Fprintf(&b, "Review priority: %s\n", esc.Priority)
	for _, a := range esc.Actions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	b.WriteString("\n")

	b.WriteString(RequiredSections[6] + "\n")
	fmt.Fprintf(&b, "Risk Score: %d/100\n", cls.RiskScore)
	b.WriteString("This narrative was generated based on automated transaction pattern analysis.\n")
	b.WriteString("Key data points: transaction frequency, amount patterns, counterparty diversity,\n")
	b.WriteString("and geographic risk factors. All source data is preserved in the audit log.\n")
	b.WriteString("NOTE: This is a system-generated draft. Human analyst review and approval required before filing.\n")

	return b.String()
}
