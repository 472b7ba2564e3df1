package highlight

import (
	"regexp"
	"strings"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// Part is one segment of text, either matching the query or not.
type Part struct {
	Value string
	Match bool
}

// Parts splits text around case-insensitive occurrences of query. The query
// is taken literally. A blank query yields the whole text as one part.
func Parts(text, query string) []Part {
	re := matcher(query)
	if re == nil {
		return []Part{{Value: text}}
	}

	var out []Part
	last := 0
	for _, idx := range re.FindAllStringIndex(text, -1) {
		if idx[0] > last {
			out = append(out, Part{Value: text[last:idx[0]]})
		}
		out = append(out, Part{Value: text[idx[0]:idx[1]], Match: true})
		last = idx[1]
	}
	if last < len(text) {
		out = append(out, Part{Value: text[last:]})
	}
	if len(out) == 0 {
		out = append(out, Part{Value: text})
	}
	return out
}

// Render joins parts, passing matches through wrap.
func Render(parts []Part, wrap func(string) string) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Match && wrap != nil {
			b.WriteString(wrap(p.Value))
			continue
		}
		b.WriteString(p.Value)
	}
	return b.String()
}

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// ApplyANSI highlights query in already-rendered terminal text. Escape
// sequences are left intact and matches never span them.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	if matcher(query) == nil {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	lines := strings.SplitAfter(input, "\n")
	var out strings.Builder
	lineMatches := make([]int, 0, 64)
	total := 0

	for lineNo, line := range lines {
		core, hasNewline := strings.CutSuffix(line, "\n")
		rendered, count := applyToANSIText(core, query, wrap)
		out.WriteString(rendered)
		if hasNewline {
			out.WriteByte('\n')
		}
		if count > 0 {
			lineMatches = append(lineMatches, lineNo)
			total += count
		}
	}

	return Result{
		Text:      out.String(),
		Count:     total,
		LineIndex: lineMatches,
	}
}

func applyToANSIText(s, query string, wrap func(string) string) (string, int) {
	var out strings.Builder
	total := 0
	pos := 0
	plain := func(seg string) {
		parts := Parts(seg, query)
		for _, p := range parts {
			if p.Match {
				total++
			}
		}
		out.WriteString(Render(parts, wrap))
	}
	for _, idx := range ansiCSI.FindAllStringIndex(s, -1) {
		if idx[0] > pos {
			plain(s[pos:idx[0]])
		}
		out.WriteString(s[idx[0]:idx[1]])
		pos = idx[1]
	}
	if pos < len(s) {
		plain(s[pos:])
	}
	return out.String(), total
}

func matcher(query string) *regexp.Regexp {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(query))
}
