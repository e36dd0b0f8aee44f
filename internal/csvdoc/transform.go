package csvdoc

import "strings"

// ToDifyRows flattens exported messages into one row per thread parent, with
// the replies joined by newlines in export order. Replies whose parent is not
// in records are dropped and counted.
func ToDifyRows(records []SlackRecord) (rows []DifyRow, orphans int) {
	index := make(map[string]int)
	children := make(map[string][]string)

	for _, r := range records {
		if r.IsParent() {
			if _, seen := index[r.TS]; seen {
				continue
			}
			index[r.TS] = len(rows)
			rows = append(rows, DifyRow{ParentTimestamp: r.TS, ParentText: r.Text})
		}
	}
	for _, r := range records {
		if r.IsParent() {
			continue
		}
		if _, ok := index[r.ThreadTS]; !ok {
			orphans++
			continue
		}
		children[r.ThreadTS] = append(children[r.ThreadTS], r.Text)
	}
	for ts, texts := range children {
		rows[index[ts]].ChildText = strings.Join(texts, "\n")
	}
	return rows, orphans
}
