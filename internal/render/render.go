package render

import (
	"regexp"
	"sort"
	"strings"

	"github.com/obialo/tutornotify/internal/models"
)

// placeholderRe matches bracket tokens like [Name] or [amount_due].
var placeholderRe = regexp.MustCompile(`\[([A-Za-z0-9_]+)\]`)

// Render substitutes bracket placeholders in pattern with entries from
// values. Tokens with no matching value are left as literal [Token] text
// and reported back, sorted and deduplicated, so an admin view can
// highlight them. Re-rendering fully substituted text is a no-op.
func Render(pattern string, values map[string]string) (string, []string) {
	missing := make(map[string]struct{})
	text := placeholderRe.ReplaceAllStringFunc(pattern, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := values[name]; ok {
			return v
		}
		missing[name] = struct{}{}
		return tok
	})

	unresolved := make([]string, 0, len(missing))
	for name := range missing {
		unresolved = append(unresolved, name)
	}
	sort.Strings(unresolved)
	return text, unresolved
}

// RenderTemplate renders a template's title and body patterns with one
// values map, merging the unresolved placeholder sets.
func RenderTemplate(t models.Template, values map[string]string) (title, body string, unresolved []string) {
	var titleMissing, bodyMissing []string
	title, titleMissing = Render(t.TitlePattern, values)
	body, bodyMissing = Render(t.BodyPattern, values)
	return title, body, MergeUnresolved(titleMissing, bodyMissing)
}

// MergeUnresolved combines unresolved placeholder sets into one sorted,
// deduplicated list, the shape every render path reports.
func MergeUnresolved(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, name := range set {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Placeholders lists the distinct tokens referenced by a pattern, in
// order of first appearance. Used when saving a template to record its
// declared placeholder list.
func Placeholders(pattern string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Highlight wraps every remaining token in marker strings, for the
// admin preview that flags missing values.
func Highlight(text, pre, post string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(tok string) string {
		var b strings.Builder
		b.WriteString(pre)
		b.WriteString(tok)
		b.WriteString(post)
		return b.String()
	})
}
