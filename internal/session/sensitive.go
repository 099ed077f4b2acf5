package session

import (
	"regexp"
	"strings"
)

// RedactedValue replaces values typed into sensitive fields.
const RedactedValue = "[redacted]"

var sensitiveInputTypes = map[string]bool{
	"password": true,
}

var sensitiveAutocomplete = map[string]bool{
	"current-password": true,
	"new-password":     true,
	"one-time-code":    true,
	"cc-number":        true,
	"cc-csc":           true,
	"cc-exp":           true,
	"cc-exp-month":     true,
	"cc-exp-year":      true,
}

// sensitiveName matches identifying attributes (name, id, placeholder,
// aria-label) of fields that usually hold secrets or personal data.
var sensitiveName = regexp.MustCompile(`(?i)(passw(or)?d|passwd|\bpwd\b|secret|token|api[-_ ]?key|\bssn\b|social[-_ ]?security|credit[-_ ]?card|card[-_ ]?number|\bcc[-_]?(num|number|csc)\b|\bcvv\b|\bcvc\b|\bpin\b|\botp\b|one[-_ ]?time)`)

// IsSensitiveField reports whether el looks like a password or PII field
// whose value must not be shown or stored.
func IsSensitiveField(el *ElementInfo) bool {
	if el == nil {
		return false
	}
	if sensitiveInputTypes[strings.ToLower(el.Type)] {
		return true
	}
	for _, token := range strings.Fields(strings.ToLower(el.Autocomplete)) {
		if sensitiveAutocomplete[token] {
			return true
		}
	}
	for _, attr := range []string{el.Name, el.ID, el.Placeholder, el.AriaLabel, el.Label} {
		if attr != "" && sensitiveName.MatchString(attr) {
			return true
		}
	}
	return false
}

// RedactEvent returns a copy of ev with the typed value replaced when the
// target element is sensitive.
func RedactEvent(ev InteractionEvent) InteractionEvent {
	if ev.Element != nil {
		ev.Element = ev.Element.clone()
	}
	if ev.Value != "" && IsSensitiveField(ev.Element) {
		ev.Value = RedactedValue
	}
	return ev
}
