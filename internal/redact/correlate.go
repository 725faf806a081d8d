package redact

import "regexp"

var (
	uuidPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	reqIDPattern = regexp.MustCompile(`(?i)(x-request-id|request id|reqid|trace-id)\s*[:=]\s*([A-Za-z0-9-]{6,128})`)
	errPattern   = regexp.MustCompile(`\b(ERR[-_]?[A-Z0-9]{3,10})\b`)
)

// Correlation holds identifiers the customer pasted into their message,
// kept so tool evidence can be matched back to the report.
type Correlation struct {
	RequestIDs []string
	ErrorCodes []string
}

// ExtractCorrelation pulls request ids and error codes from raw text.
// Results are deduplicated and capped at 10 each.
func ExtractCorrelation(text string) Correlation {
	var c Correlation
	for _, m := range reqIDPattern.FindAllStringSubmatch(text, -1) {
		c.RequestIDs = appendCapped(c.RequestIDs, m[2])
	}
	for _, m := range uuidPattern.FindAllString(text, -1) {
		c.RequestIDs = appendCapped(c.RequestIDs, m)
	}
	for _, m := range errPattern.FindAllStringSubmatch(text, -1) {
		c.ErrorCodes = appendCapped(c.ErrorCodes, m[1])
	}
	return c
}

func appendCapped(values []string, v string) []string {
	if len(values) >= 10 {
		return values
	}
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
