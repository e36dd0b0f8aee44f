package mrkdwn

// Transform rewrites Markdown tokens into the subset Slack understands:
// headings become bold lines, images become links, table separator rows
// and repeated blank lines are dropped, and emphasis nested inside the same
// emphasis is flattened since Slack cannot show it.
func Transform(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case Blank:
			if len(out) > 0 && out[len(out)-1].Kind == Blank {
				continue
			}
		case Heading:
			inner := transformInline(b.Inline, Bold)
			if len(inner) == 1 && inner[0].Kind == Bold {
				inner = inner[0].Children
			}
			b = Block{Kind: Paragraph, Inline: []Inline{{Kind: Bold, Children: inner}}}
			out = append(out, b)
			continue
		case Rule:
			if b.Level < 0 {
				continue
			}
		case Code:
			b.Lang = ""
		case TableRow:
			cells := make([][]Inline, len(b.Cells))
			for i, c := range b.Cells {
				cells[i] = transformInline(c, -1)
			}
			b.Cells = cells
			out = append(out, b)
			continue
		}
		b.Inline = transformInline(b.Inline, -1)
		out = append(out, b)
	}

	// trim leading and trailing blank lines
	for len(out) > 0 && out[0].Kind == Blank {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1].Kind == Blank {
		out = out[:len(out)-1]
	}
	return out
}

// transformInline rewrites spans; within is the emphasis kind currently open
// (or -1) so a repeated kind is unwrapped.
func transformInline(in []Inline, within InlineKind) []Inline {
	var out []Inline
	for _, n := range in {
		switch n.Kind {
		case Image:
			label := n.Text
			if label == "" {
				label = n.URL
			}
			out = append(out, Inline{Kind: Link, URL: n.URL, Children: []Inline{{Kind: Text, Text: label}}})
		case Bold, Italic, Strike:
			children := transformInline(n.Children, n.Kind)
			if n.Kind == within {
				out = append(out, children...)
				continue
			}
			out = append(out, Inline{Kind: n.Kind, Children: children})
		case Link:
			out = append(out, Inline{Kind: Link, URL: n.URL, Children: transformInline(n.Children, within)})
		default:
			out = append(out, n)
		}
	}
	return out
}
