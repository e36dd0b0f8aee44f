package mrkdwn

import (
	"strings"
)

const ruleText = "──────────"

// Render prints transformed blocks as Slack mrkdwn.
func Render(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		lines = append(lines, renderBlock(b))
	}
	return strings.Join(lines, "\n")
}

func renderBlock(b Block) string {
	indent := strings.Repeat("    ", b.Level)
	switch b.Kind {
	case Blank:
		return ""
	case Bullet:
		return indent + "• " + renderInline(b.Inline)
	case Ordered:
		return indent + b.Marker + " " + renderInline(b.Inline)
	case Quote:
		return "> " + renderInline(b.Inline)
	case Code:
		return "```\n" + b.Raw + "\n```"
	case Rule:
		return ruleText
	case TableRow:
		cells := make([]string, len(b.Cells))
		for i, c := range b.Cells {
			cells[i] = renderInline(c)
		}
		return strings.Join(cells, " | ")
	case Heading:
		return "*" + renderInline(b.Inline) + "*"
	}
	return renderInline(b.Inline)
}

func renderInline(in []Inline) string {
	var sb strings.Builder
	for _, n := range in {
		switch n.Kind {
		case Text:
			sb.WriteString(n.Text)
		case CodeSpan:
			sb.WriteString("`" + n.Text + "`")
		case Bold:
			sb.WriteString("*" + renderInline(n.Children) + "*")
		case Italic:
			sb.WriteString("_" + renderInline(n.Children) + "_")
		case Strike:
			sb.WriteString("~" + renderInline(n.Children) + "~")
		case Link, Image:
			label := renderInline(n.Children)
			if n.Kind == Image {
				label = n.Text
			}
			if label == "" || label == n.URL {
				sb.WriteString("<" + n.URL + ">")
			} else {
				sb.WriteString("<" + n.URL + "|" + label + ">")
			}
		}
	}
	return sb.String()
}

// Convert turns Markdown into Slack mrkdwn.
func Convert(md string) string {
	return Render(Transform(Parse(md)))
}

// Format is the answer formatter used by the relay: embedded HTML is turned
// into Markdown first, then the whole answer is converted.
func Format(answer string) string {
	return Convert(NormalizeHTML(answer))
}
