package narrative

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PromptTemplateID identifies the prompt layout recorded in audit payloads.
const PromptTemplateID = "SAR_PROMPT_V1"

var sectionGuidance = []string{
	"[Full details about the customer and their normal account profile]",
	"[Precise summary of suspicious transactions with dates, amounts, and parties involved]",
	"[Detailed narrative explaining exactly what happened and why it is suspicious]",
	"[Map this activity to a known financial crime typology with explanation]",
	"[Numbered list of specific red flags observed in this case]",
	"[Recommended next steps: file SAR / escalate / request documents / freeze account]",
	"[Explain which specific data points influenced this narrative and why]",
}

// BuildPrompt assembles the generation prompt from case facts and retrieved context.
func BuildPrompt(req domain.GenerateRequest, cls domain.Classification, ret domain.Retrieval, esc domain.Escalation) string {
	var b strings.Builder

	b.WriteString("You are a senior AML (Anti-Money Laundering) compliance officer at a major bank.\n")
	b.WriteString("Your task is to write a formal, regulator-ready Suspicious Activity Report (SAR) narrative.\n\n")

	b.WriteString("REFERENCE TEMPLATES (use these as style guides):\n")
	b.WriteString(ret.Context)
	b.WriteString("\n\n---\n\nNOW GENERATE A SAR FOR THIS CASE:\n\n")

	fmt.Fprintf(&b, "CUSTOMER NAME: %s\n", req.CustomerName)
	fmt.Fprintf(&b, "ACCOUNT NUMBER: %s\n", req.AccountNumber)
	fmt.Fprintf(&b, "DETECTED TYPOLOGY: %s\n", cls.Typology)
	fmt.Fprintf(&b, "RISK SCORE: %d/100\n", cls.RiskScore)
	fmt.Fprintf(&b, "REVIEW PRIORITY: %s\n", esc.Priority)
	if len(esc.Actions) > 0 {
		fmt.Fprintf(&b, "RECOMMENDED ACTIONS: %s\n", strings.Join(esc.Actions, "; "))
	}

	b.WriteString("\nTRANSACTION DETAILS:\n")
	b.WriteString(req.Transactions)
	b.WriteString("\n\n---\n\nWrite a complete, professional SAR narrative with EXACTLY these sections:\n\n")

	for i, h := range RequiredSections {
		b.WriteString(h)
		b.WriteString("\n")
		b.WriteString(sectionGuidance[i])
		b.WriteString("\n\n")
	}

	b.WriteString("Write in formal regulatory language. Be specific, factual, and unambiguous.\n")
	b.WriteString("Do NOT include any disclaimers or meta-commentary. Write only the SAR narrative.\n")
	return b.String()
}
