// Package describe turns an interaction event into the one-line,
// human-readable instruction shown under a step's screenshot.
//
// Every string that reaches the output comes from the page and is treated as
// untrusted: markup is stripped, whitespace collapsed and length capped.
package describe

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/stepsnap/stepsnap/internal/session"
)

// maxLabelRunes caps quoted labels and values in descriptions.
const maxLabelRunes = 60

var strict = bluemonday.StrictPolicy()

// Step returns the description for ev.
func Step(ev session.InteractionEvent) string {
	el := ev.Element
	if el == nil {
		el = &session.ElementInfo{}
	}
	switch ev.Kind {
	case session.KindClick:
		return click(el)
	case session.KindInput:
		return input(el, ev.Value)
	case session.KindChange:
		return change(el, ev.Value)
	case session.KindKeypress:
		return keypress(el, ev.Key)
	case session.KindNavigation:
		return navigation(ev)
	case session.KindScroll:
		return scroll(ev.DeltaY)
	default:
		return "Interact with the page"
	}
}

// Screenshot is the description of an ad-hoc single screenshot.
func Screenshot(title string) string {
	if t := Clean(title); t != "" {
		return fmt.Sprintf("Screenshot of %q", t)
	}
	return "Screenshot"
}

func click(el *session.ElementInfo) string {
	label := Label(el)
	tag := strings.ToLower(el.Tag)
	typ := strings.ToLower(el.Type)
	role := strings.ToLower(el.Role)

	switch {
	case tag == "a" || role == "link":
		if label == "" {
			return "Click the link"
		}
		return fmt.Sprintf("Click the %q link", label)
	case tag == "button" || role == "button" || (tag == "input" && (typ == "submit" || typ == "button")):
		if label == "" {
			return "Click the button"
		}
		return fmt.Sprintf("Click the %q button", label)
	case typ == "checkbox" || role == "checkbox":
		if label == "" {
			return "Toggle the checkbox"
		}
		return fmt.Sprintf("Toggle the %q checkbox", label)
	case typ == "radio" || role == "radio":
		if label == "" {
			return "Select the option"
		}
		return fmt.Sprintf("Select the %q option", label)
	case label != "":
		return fmt.Sprintf("Click on %q", label)
	case tag != "":
		return fmt.Sprintf("Click on the %s element", tag)
	default:
		return "Click on the page"
	}
}

func input(el *session.ElementInfo, value string) string {
	field := fieldName(el)
	if session.IsSensitiveField(el) {
		return fmt.Sprintf("Type in %s", field)
	}
	v := Clean(value)
	if v == "" {
		return fmt.Sprintf("Clear %s", field)
	}
	return fmt.Sprintf("Type %q in %s", v, field)
}

func change(el *session.ElementInfo, value string) string {
	field := fieldName(el)
	tag := strings.ToLower(el.Tag)
	typ := strings.ToLower(el.Type)

	switch {
	case typ == "checkbox":
		label := Label(el)
		if label == "" {
			label = "checkbox"
		}
		if el.Checked != nil && !*el.Checked {
			return fmt.Sprintf("Uncheck %q", label)
		}
		return fmt.Sprintf("Check %q", label)
	case tag == "select":
		if v := Clean(value); v != "" {
			return fmt.Sprintf("Select %q from %s", v, dropdownName(el))
		}
		return fmt.Sprintf("Change the selection in %s", dropdownName(el))
	case session.IsSensitiveField(el):
		return fmt.Sprintf("Change %s", field)
	}
	if v := Clean(value); v != "" {
		return fmt.Sprintf("Set %s to %q", field, v)
	}
	return fmt.Sprintf("Change %s", field)
}

func keypress(el *session.ElementInfo, key string) string {
	k := Clean(key)
	if k == "" {
		k = "a key"
	}
	if label := Label(el); label != "" {
		return fmt.Sprintf("Press %s in the %q field", k, label)
	}
	return fmt.Sprintf("Press %s", k)
}

func navigation(ev session.InteractionEvent) string {
	if t := Clean(ev.PageTitle); t != "" {
		return fmt.Sprintf("Navigate to %q", t)
	}
	u, err := url.Parse(ev.URL)
	if err != nil || u.Host == "" {
		if s := Clean(ev.URL); s != "" {
			return fmt.Sprintf("Navigate to %s", s)
		}
		return "Navigate to a new page"
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	return "Navigate to " + truncate(u.Host+path)
}

func scroll(deltaY int) string {
	switch {
	case deltaY > 0:
		return "Scroll down the page"
	case deltaY < 0:
		return "Scroll up the page"
	default:
		return "Scroll the page"
	}
}

func fieldName(el *session.ElementInfo) string {
	if label := Label(el); label != "" {
		return fmt.Sprintf("the %q field", label)
	}
	return "the field"
}

func dropdownName(el *session.ElementInfo) string {
	if label := Label(el); label != "" {
		return fmt.Sprintf("the %q dropdown", label)
	}
	return "the dropdown"
}

// Label picks the most human-meaningful name for el, in order of
// preference: associated label, aria-label, visible text, placeholder,
// title, name attribute.
func Label(el *session.ElementInfo) string {
	if el == nil {
		return ""
	}
	for _, candidate := range []string{el.Label, el.AriaLabel, el.Text, el.Placeholder, el.Title, el.Name} {
		if c := Clean(candidate); c != "" {
			return c
		}
	}
	return ""
}

// Clean strips markup from s, collapses whitespace and truncates it.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	return truncate(s)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxLabelRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxLabelRunes-1])) + "…"
}
