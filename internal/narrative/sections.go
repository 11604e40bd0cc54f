package narrative

import "strings"

// RequiredSections are the SAR headings every narrative must contain, in order.
var RequiredSections = []string{
	"## 1. SUBJECT INFORMATION",
	"## 2. TRANSACTION SUMMARY",
	"## 3. SUSPICIOUS ACTIVITY DESCRIPTION",
	"## 4. TYPOLOGY MATCH",
	"## 5. RED FLAGS IDENTIFIED",
	"## 6. ANALYST RECOMMENDATION",
	"## 7. AUDIT RATIONALE",
}

// canonical maps a normalized heading title to its RequiredSections entry.
var canonical = func() map[string]string {
	m := make(map[string]string, len(RequiredSections))
	for _, h := range RequiredSections {
		m[normalizeHeading(h)] = h
	}
	return m
}()

func normalizeHeading(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "#* ")
	line = strings.TrimRight(line, "*: ")
	return strings.ToUpper(strings.Join(strings.Fields(line), " "))
}

// Sections returns the required headings found in text, in order of appearance.
// Markdown level, bold markers, spacing and case are tolerated.
func Sections(text string) []string {
	var found []string
	for _, line := range strings.Split(text, "\n") {
		if h, ok := canonical[normalizeHeading(line)]; ok {
			found = append(found, h)
		}
	}
	return found
}

// HasRequiredSections reports whether all required headings appear in order.
func HasRequiredSections(text string) bool {
	next := 0
	for _, h := range Sections(text) {
		if next < len(RequiredSections) && h == RequiredSections[next] {
			next++
		}
	}
	return next == len(RequiredSections)
}
