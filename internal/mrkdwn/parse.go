// Package mrkdwn converts the Markdown produced by LLM answers into Slack's
// mrkdwn dialect. Conversion is a pure pipeline: Parse builds block and inline
// tokens, Transform rewrites them into what Slack can show, Render prints.
package mrkdwn

import (
	"regexp"
	"strings"
)

// BlockKind identifies a line-level construct.
type BlockKind int

const (
	Paragraph BlockKind = iota
	Blank
	Heading
	Bullet
	Ordered
	Quote
	Code
	Rule
	TableRow
)

// InlineKind identifies a span inside a block.
type InlineKind int

const (
	Text InlineKind = iota
	CodeSpan
	Bold
	Italic
	Strike
	Link
	Image
)

// Block is one parsed line, or a whole fenced code block.
type Block struct {
	Kind   BlockKind
	Level  int    // heading level or list indent depth
	Marker string // ordered list marker such as "1."
	Lang   string // fence info string
	Raw    string // code body, untouched
	Inline []Inline
	Cells  [][]Inline
}

// Inline is a span of text, possibly with nested spans.
type Inline struct {
	Kind     InlineKind
	Text     string
	URL      string
	Children []Inline
}

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	ruleRe      = regexp.MustCompile(`^\s{0,3}([-*_])(\s*[-*_]){2,}\s*$`)
	bulletRe    = regexp.MustCompile(`^(\s*)[-*+]\s+(.*)$`)
	orderedRe   = regexp.MustCompile(`^(\s*)(\d+[.)])\s+(.*)$`)
	quoteRe     = regexp.MustCompile(`^\s{0,3}>\s?(.*)$`)
	tableSepRe  = regexp.MustCompile(`^\s*\|?\s*:?-{2,}:?\s*(\|\s*:?-{2,}:?\s*)*\|?\s*$`)
	fenceOpenRe = regexp.MustCompile("^\\s*(```+|~~~+)\\s*([^`\\s]*)")
)

// Parse splits Markdown into blocks with their inline tokens. Unclosed code
// fences run to the end of the input.
func Parse(md string) []Block {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	lines := strings.Split(md, "\n")

	var blocks []Block
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := fenceOpenRe.FindStringSubmatch(line); m != nil {
			fence := m[1]
			var body []string
			j := i + 1
			for ; j < len(lines); j++ {
				if strings.HasPrefix(strings.TrimSpace(lines[j]), fence) {
					break
				}
				body = append(body, lines[j])
			}
			blocks = append(blocks, Block{Kind: Code, Lang: m[2], Raw: strings.Join(body, "\n")})
			i = j
			continue
		}

		blocks = append(blocks, parseLine(line))
	}
	return blocks
}

func parseLine(line string) Block {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return Block{Kind: Blank}
	case headingRe.MatchString(trimmed):
		m := headingRe.FindStringSubmatch(trimmed)
		return Block{Kind: Heading, Level: len(m[1]), Inline: ParseInline(m[2])}
	case ruleRe.MatchString(line):
		return Block{Kind: Rule}
	case bulletRe.MatchString(line):
		m := bulletRe.FindStringSubmatch(line)
		return Block{Kind: Bullet, Level: indentDepth(m[1]), Inline: ParseInline(m[2])}
	case orderedRe.MatchString(line):
		m := orderedRe.FindStringSubmatch(line)
		return Block{Kind: Ordered, Level: indentDepth(m[1]), Marker: m[2], Inline: ParseInline(m[3])}
	case quoteRe.MatchString(line):
		m := quoteRe.FindStringSubmatch(line)
		return Block{Kind: Quote, Inline: ParseInline(m[1])}
	case strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1:
		if tableSepRe.MatchString(trimmed) {
			return Block{Kind: Rule, Level: -1}
		}
		return Block{Kind: TableRow, Cells: parseCells(trimmed)}
	}
	return Block{Kind: Paragraph, Inline: ParseInline(trimmed)}
}

func indentDepth(ws string) int {
	n := 0
	for _, r := range ws {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n / 2
}

func parseCells(row string) [][]Inline {
	row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
	parts := strings.Split(row, "|")
	cells := make([][]Inline, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, ParseInline(strings.TrimSpace(p)))
	}
	return cells
}

// ParseInline tokenizes emphasis, code spans, links and images. Emphasis
// markers without a matching closer are kept as text.
func ParseInline(s string) []Inline {
	var (
		out  []Inline
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			out = append(out, Inline{Kind: Text, Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]

		switch {
		case c == '\\' && i+1 < len(s) && isPunct(s[i+1]):
			text.WriteByte(s[i+1])
			i += 2
			continue

		case c == '`':
			ticks := countRun(s[i:], '`')
			delim := strings.Repeat("`", ticks)
			if end := strings.Index(s[i+ticks:], delim); end >= 0 {
				flush()
				out = append(out, Inline{Kind: CodeSpan, Text: s[i+ticks : i+ticks+end]})
				i += ticks + end + ticks
				continue
			}
			text.WriteString(delim)
			i += ticks
			continue

		case c == '!' && strings.HasPrefix(s[i+1:], "["):
			if label, url, n, ok := parseLink(s[i+1:]); ok {
				flush()
				out = append(out, Inline{Kind: Image, Text: label, URL: url})
				i += 1 + n
				continue
			}

		case c == '[':
			if label, url, n, ok := parseLink(s[i:]); ok {
				flush()
				out = append(out, Inline{Kind: Link, URL: url, Children: ParseInline(label)})
				i += n
				continue
			}

		case strings.HasPrefix(s[i:], "**") || strings.HasPrefix(s[i:], "__"):
			delim := s[i : i+2]
			if end, ok := findCloser(s, i+2, delim, i); ok {
				flush()
				out = append(out, Inline{Kind: Bold, Children: ParseInline(s[i+2 : end])})
				i = end + 2
				continue
			}
			text.WriteString(delim)
			i += 2
			continue

		case strings.HasPrefix(s[i:], "~~"):
			if end, ok := findCloser(s, i+2, "~~", i); ok {
				flush()
				out = append(out, Inline{Kind: Strike, Children: ParseInline(s[i+2 : end])})
				i = end + 2
				continue
			}
			text.WriteString("~~")
			i += 2
			continue

		case c == '*' || c == '_':
			delim := string(c)
			if end, ok := findCloser(s, i+1, delim, i); ok {
				flush()
				out = append(out, Inline{Kind: Italic, Children: ParseInline(s[i+1 : end])})
				i = end + 1
				continue
			}
		}

		text.WriteByte(c)
		i++
	}
	flush()
	return out
}

// findCloser finds the closing delimiter for an emphasis run opened at
// openAt. Openers must be followed and closers preceded by non-space;
// underscores must sit on word boundaries so snake_case stays intact.
// Code spans and doubled single-character delimiters are skipped.
func findCloser(s string, from int, delim string, openAt int) (int, bool) {
	if from >= len(s) || s[from] == ' ' {
		return 0, false
	}
	if delim[0] == '_' && openAt > 0 && isWordByte(s[openAt-1]) {
		return 0, false
	}

	for j := from; j < len(s); j++ {
		switch {
		case s[j] == '`':
			ticks := countRun(s[j:], '`')
			if end := strings.Index(s[j+ticks:], strings.Repeat("`", ticks)); end >= 0 {
				j += ticks + end + ticks - 1
				continue
			}
		case len(delim) == 1 && strings.HasPrefix(s[j:], delim+delim):
			// skip the nested strong run
			if end, ok := findCloser(s, j+2, delim+delim, j); ok {
				j = end + 1
			} else {
				j++
			}
			continue
		}

		if !strings.HasPrefix(s[j:], delim) || j == from {
			continue
		}
		if s[j-1] == ' ' {
			continue
		}
		after := j + len(delim)
		if delim[0] == '_' && after < len(s) && isWordByte(s[after]) {
			continue
		}
		return j, true
	}
	return 0, false
}

// parseLink reads "[label](url)" at the start of s and returns its length.
func parseLink(s string) (label, url string, n int, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", "", 0, false
	}
	depth := 0
	closeBracket := -1
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				closeBracket = j
			}
		}
		if closeBracket >= 0 {
			break
		}
	}
	if closeBracket < 0 || closeBracket+1 >= len(s) || s[closeBracket+1] != '(' {
		return "", "", 0, false
	}

	depth = 0
	for j := closeBracket + 1; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				target := strings.TrimSpace(s[closeBracket+2 : j])
				// drop an optional title: [x](url "title")
				if sp := strings.IndexByte(target, ' '); sp >= 0 {
					target = target[:sp]
				}
				target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
				if target == "" {
					return "", "", 0, false
				}
				return s[1:closeBracket], target, j + 1, true
			}
		}
	}
	return "", "", 0, false
}

func countRun(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 0x80 || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func isPunct(b byte) bool {
	return strings.IndexByte("\\`*_{}[]()#+-.!~|<>", b) >= 0
}
