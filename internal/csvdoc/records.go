// Package csvdoc holds the CSV shapes used on the way from Slack and Notion
// to Dify: exported Slack messages, Dify-ready parent/child rows, and a
// generic table that can be split into upload-sized parts.
package csvdoc

import (
	"bytes"
	"fmt"

	"github.com/gocarina/gocsv"
)

// SlackRecord is one exported Slack message.
type SlackRecord struct {
	User      string `csv:"user"`
	Text      string `csv:"text"`
	TS        string `csv:"ts"`
	ThreadTS  string `csv:"thread_ts"`
	ThreadURL string `csv:"thread_url"`
	Source    string `csv:"source"`
	RawData   string `csv:"-"`
}

// IsParent reports whether the message starts a thread (or stands alone).
func (r SlackRecord) IsParent() bool {
	return r.ThreadTS == "" || r.ThreadTS == r.TS
}

type slackRawRecord struct {
	SlackRecord
	RawData string `csv:"raw_data"`
}

// DifyRow is one knowledge entry: a parent message and its replies.
type DifyRow struct {
	ParentTimestamp string `csv:"parent_timestamp"`
	ParentText      string `csv:"parent_text"`
	ChildText       string `csv:"child_text"`
}

// DifyHeader is the column order of Dify-ready documents.
var DifyHeader = []string{"parent_timestamp", "parent_text", "child_text"}

// MarshalSlackRecords writes records as CSV. The raw_data column is only
// present when withRaw is set.
func MarshalSlackRecords(records []SlackRecord, withRaw bool) ([]byte, error) {
	if !withRaw {
		return marshal(&records)
	}
	raw := make([]slackRawRecord, len(records))
	for i, r := range records {
		raw[i] = slackRawRecord{SlackRecord: r, RawData: r.RawData}
	}
	return marshal(&raw)
}

// UnmarshalSlackRecords reads an export with or without the raw_data column.
func UnmarshalSlackRecords(data []byte) ([]SlackRecord, error) {
	var raw []slackRawRecord
	if err := gocsv.UnmarshalBytes(stripBOM(data), &raw); err != nil {
		return nil, fmt.Errorf("parse slack export: %w", err)
	}
	records := make([]SlackRecord, len(raw))
	for i, r := range raw {
		records[i] = r.SlackRecord
		records[i].RawData = r.RawData
	}
	return records, nil
}

// MarshalDifyRows writes Dify-ready rows as CSV.
func MarshalDifyRows(rows []DifyRow) ([]byte, error) {
	return marshal(&rows)
}

// UnmarshalDifyRows reads a Dify-ready CSV.
func UnmarshalDifyRows(data []byte) ([]DifyRow, error) {
	var rows []DifyRow
	if err := gocsv.UnmarshalBytes(stripBOM(data), &rows); err != nil {
		return nil, fmt.Errorf("parse dify rows: %w", err)
	}
	return rows, nil
}

// DifyTable turns rows into a generic table for chunking.
func DifyTable(rows []DifyRow) *Table {
	t := &Table{Header: append([]string(nil), DifyHeader...), Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.ParentTimestamp, r.ParentText, r.ChildText})
	}
	return t
}

func marshal(v interface{}) ([]byte, error) {
	data, err := gocsv.MarshalBytes(v)
	if err != nil {
		return nil, fmt.Errorf("marshal csv: %w", err)
	}
	return data, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}
