package mrkdwn

import (
	"io"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var htmlConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

var voidElements = map[atom.Atom]bool{
	atom.Br: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Meta: true, atom.Link: true, atom.Wbr: true, atom.Source: true,
}

// NormalizeHTML replaces HTML elements embedded in Markdown with their
// Markdown equivalent. <details> blocks (agent thoughts) are removed. Text
// outside elements and everything inside code fences is left as is.
func NormalizeHTML(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	var (
		out     strings.Builder
		segment strings.Builder
		inFence bool
		fence   string
	)
	flush := func() {
		if segment.Len() > 0 {
			out.WriteString(normalizeSegment(segment.String()))
			segment.Reset()
		}
	}

	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			flush()
			inFence = true
			fence = trimmed[:3]
			out.WriteString(line)
		case inFence:
			out.WriteString(line)
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
		default:
			segment.WriteString(line)
		}
	}
	flush()
	return out.String()
}

// ContainsHTML reports whether text has at least one known HTML element.
func ContainsHTML(text string) bool {
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		}
	}
}

func normalizeSegment(text string) string {
	if !ContainsHTML(text) {
		return text
	}

	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(text))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				logrus.Debugf("HTML tokenizer stopped: %v", z.Err())
			}
			break
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == 0 {
				out.WriteString(raw)
				continue
			}
			if a == atom.Br {
				out.WriteString("\n")
				continue
			}
			if tt == html.SelfClosingTagToken || voidElements[a] {
				out.WriteString(toMarkdown(raw))
				continue
			}

			fragment := raw + captureElement(z, a)
			if a == atom.Details {
				continue
			}
			out.WriteString(toMarkdown(fragment))

		case html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == 0 {
				out.WriteString(raw)
			}
			// stray closing tags of known elements are dropped

		case html.CommentToken:
			// dropped

		default:
			out.WriteString(raw)
		}
	}
	return out.String()
}

// captureElement consumes tokens up to and including the end tag matching an
// already read start tag of kind a, returning their raw text.
func captureElement(z *html.Tokenizer, a atom.Atom) string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		sb.Write(z.Raw())
		switch tt {
		case html.StartTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == a {
				depth++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == a {
				depth--
			}
		}
	}
	return sb.String()
}

func toMarkdown(fragment string) string {
	md, err := htmlConverter.ConvertString(fragment)
	if err != nil {
		logrus.Warnf("Failed to convert HTML to markdown: %v", err)
		return fragment
	}
	return md
}
