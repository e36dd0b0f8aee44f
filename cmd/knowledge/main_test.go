package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
	"github.com/ops-euc-admin/ops-app-repo/internal/mocks"
)

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func useDatasetClient(t *testing.T, client dify.DatasetClient) {
	t.Helper()
	original := newDatasetClient
	newDatasetClient = func(*config.Config) dify.DatasetClient { return client }
	t.Cleanup(func() { newDatasetClient = original })
}

const slackExport = `user,text,ts,thread_ts,thread_url,source
alice,How do I reset my password?,100.1,100.1,https://example.slack.com/archives/C1/p1001,helpdesk
bob,Use the self-service portal,100.2,100.1,https://example.slack.com/archives/C1/p1002,helpdesk
carol,VPN is down,200.1,,https://example.slack.com/archives/C1/p2001,helpdesk
dave,Lost reply,300.2,300.1,https://example.slack.com/archives/C1/p3002,helpdesk
`

func TestTransform(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "slack.csv")
	out := filepath.Join(dir, "dify.csv")
	require.NoError(t, os.WriteFile(in, []byte(slackExport), 0644))

	stdout, err := execute(t, "transform", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote 2 rows")
	assert.Contains(t, stdout, "Dropped 1 replies without a parent")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	rows, err := csvdoc.UnmarshalDifyRows(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "How do I reset my password?", rows[0].ParentText)
	assert.Equal(t, "Use the self-service portal", rows[0].ChildText)
	assert.Equal(t, "VPN is down", rows[1].ParentText)
	assert.Empty(t, rows[1].ChildText)
}

func TestTransform_MissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "transform", filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"))
	assert.Error(t, err)
}

func writeTable(t *testing.T, path string, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("parent_timestamp,parent_text,child_text\n")
	for i := 0; i < rows; i++ {
		b.WriteString("100.1,question,answer\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

func TestSplit_ByRows(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rows.csv")
	writeTable(t, in, 5)
	prefix := filepath.Join(dir, "part")

	stdout, err := execute(t, "split", in, prefix, "--rows", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Split 5 rows into 3 parts")

	for i, want := range []int{2, 2, 1} {
		data, err := os.ReadFile(fmt.Sprintf("%s_%d.csv", prefix, i+1))
		require.NoError(t, err)
		table, err := csvdoc.ReadTable(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, []string{"parent_timestamp", "parent_text", "child_text"}, table.Header)
		assert.Len(t, table.Rows, want)
	}
	_, err = os.Stat(filepath.Join(dir, "part_4.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestSplit_DefaultSizeKeepsOnePart(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rows.csv")
	writeTable(t, in, 10)
	prefix := filepath.Join(dir, "part")

	stdout, err := execute(t, "split", in, prefix)
	require.NoError(t, err)
	assert.Contains(t, stdout, "into 1 parts")
	_, err = os.Stat(prefix + "_1.csv")
	assert.NoError(t, err)
}

func TestSplit_ConflictingLimits(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rows.csv")
	writeTable(t, in, 1)

	_, err := execute(t, "split", in, filepath.Join(dir, "part"), "--rows", "2", "--bytes", "100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
dify:
  dataset_api_key: dataset-key
storage:
  path: `+filepath.Join(dir, "storage")+`
`)
	first := filepath.Join(dir, "faq_1.csv")
	second := filepath.Join(dir, "faq_2.csv")
	writeTable(t, first, 1)
	writeTable(t, second, 1)

	client := &mocks.MockDifyClient{
		ListDocumentsFunc: func(ctx context.Context, datasetID, keyword string) ([]*dify.Document, error) {
			return []*dify.Document{{ID: "old-" + keyword, Name: keyword}}, nil
		},
	}
	useDatasetClient(t, client)

	stdout, err := execute(t, "--config", cfgPath, "upload", "ds-1", first, second, "--replace")
	require.NoError(t, err)
	assert.Contains(t, stdout, "document mock-doc-faq_1.csv")
	assert.Equal(t, 2, client.CallCount("CreateDocumentByFile:"))
	assert.Equal(t, 1, client.CallCount("DeleteDocument:old-faq_1.csv"))
	assert.Equal(t, 1, client.CallCount("WaitDocumentDeleted:faq_2.csv"))
}

func TestUpload_WithoutReplaceSkipsLookup(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
dify:
  dataset_api_key: dataset-key
storage:
  path: `+filepath.Join(dir, "storage")+`
`)
	file := filepath.Join(dir, "faq.csv")
	writeTable(t, file, 1)

	client := &mocks.MockDifyClient{}
	useDatasetClient(t, client)

	_, err := execute(t, "--config", cfgPath, "upload", "ds-1", file)
	require.NoError(t, err)
	assert.Equal(t, 0, client.CallCount("ListDocuments:"))
	assert.Equal(t, 1, client.CallCount("CreateDocumentByFile:faq.csv"))
}

func TestUpload_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
dify:
  dataset_api_key: dataset-key
storage:
  path: `+filepath.Join(dir, "storage")+`
`)
	file := filepath.Join(dir, "faq.csv")
	writeTable(t, file, 1)

	client := &mocks.MockDifyClient{
		CreateDocumentByFileFunc: func(ctx context.Context, datasetID, filename string, content []byte) (*dify.Document, error) {
			return nil, &dify.APIError{StatusCode: 500, Code: "internal_error", Message: "boom"}
		},
	}
	useDatasetClient(t, client)

	_, err := execute(t, "--config", cfgPath, "upload", "ds-1", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 uploads failed")
}

func TestSync_LocalFolder(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0755))
	writeTable(t, filepath.Join(docs, "vpn.csv"), 2)

	cfgPath := writeConfig(t, dir, `
dify:
  dataset_api_key: dataset-key
storage:
  path: `+filepath.Join(dir, "storage")+`
knowledge:
  local_folders:
    - folder_path: `+docs+`
      dataset_id: ds-local
`)

	client := &mocks.MockDifyClient{}
	useDatasetClient(t, client)

	stdout, err := execute(t, "--config", cfgPath, "sync")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Synced 1 sources")
	assert.Equal(t, 1, client.CallCount("CreateDocumentByFile:"))
}

func TestSync_NothingConfigured(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
dify:
  dataset_api_key: dataset-key
storage:
  path: `+filepath.Join(dir, "storage")+`
`)
	useDatasetClient(t, &mocks.MockDifyClient{})

	_, err := execute(t, "--config", cfgPath, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no knowledge sources")
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"export-slack without output", []string{"export-slack", "C1"}},
		{"export-notion with extra args", []string{"export-notion", "db", "out.csv", "FAQ", "extra"}},
		{"export-notion-page without output", []string{"export-notion-page", "page"}},
		{"transform with one arg", []string{"transform", "in.csv"}},
		{"split without prefix", []string{"split", "in.csv"}},
		{"upload without files", []string{"upload", "ds-1"}},
		{"sync with args", []string{"sync", "extra"}},
		{"invite without users", []string{"invite", "C1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("Expected argument error for %v, got none", tt.args)
			}
		})
	}
}

func TestCommandsRequireTokens(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("NOTION_TOKEN", "")
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "log_level: info\n")
	out := filepath.Join(dir, "out.csv")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"export-slack", "C1", out}, "SLACK_BOT_TOKEN"},
		{[]string{"export-notion", "db", out}, "NOTION_TOKEN"},
		{[]string{"export-notion-page", "page", out}, "NOTION_TOKEN"},
		{[]string{"invite", "C1", "U1"}, "SLACK_BOT_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", cfgPath}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "log_level: info\n")

	_, err := execute(t, "--config", cfgPath, "--log-level", "loud", "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
