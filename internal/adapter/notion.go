package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	notionVersion  = "2022-06-28"
	notionPageSize = 100

	// NotionRequestsPerSecond is Notion's documented average request rate.
	NotionRequestsPerSecond = 3
)

// NotionRichText is a span of Notion rich text
type NotionRichText struct {
	PlainText string `json:"plain_text"`
}

// NotionProperty is a database page property; only title and select are read
type NotionProperty struct {
	Type   string           `json:"type"`
	Title  []NotionRichText `json:"title,omitempty"`
	Select *struct {
		Name string `json:"name"`
	} `json:"select,omitempty"`
}

// NotionPage is a page or database row
type NotionPage struct {
	ID             string                    `json:"id"`
	URL            string                    `json:"url"`
	CreatedTime    string                    `json:"created_time"`
	LastEditedTime string                    `json:"last_edited_time"`
	Properties     map[string]NotionProperty `json:"properties"`
}

// Title returns the page's title property as plain text.
func (p *NotionPage) Title() string {
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return plainText(prop.Title)
		}
	}
	return ""
}

// NotionBlock is a content block. Text holds the block's rich text, or the
// title for child_page and child_database blocks.
type NotionBlock struct {
	ID          string
	Type        string
	HasChildren bool
	Text        string
}

func (b *NotionBlock) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ID, b.Type, b.HasChildren = head.ID, head.Type, head.HasChildren

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw, ok := fields[head.Type]
	if !ok {
		return nil
	}
	var payload struct {
		RichText []NotionRichText `json:"rich_text"`
		Title    string           `json:"title"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		// unknown payload shapes carry no text
		return nil
	}
	if payload.Title != "" {
		b.Text = payload.Title
	} else {
		b.Text = plainText(payload.RichText)
	}
	return nil
}

type notionList struct {
	Results    json.RawMessage `json:"results"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor"`
}

type notionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NotionClient talks to the Notion REST API
type NotionClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewNotionClient creates a Notion client throttled to NotionRequestsPerSecond.
// Rate limited and 5xx responses are retried by resty.
func NewNotionClient(baseURL, token string) *NotionClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Notion-Version", notionVersion).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(4).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &NotionClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(NotionRequestsPerSecond), NotionRequestsPerSecond),
	}
}

func (c *NotionClient) do(ctx context.Context, method, path string, body interface{}, query map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var apiErr notionError
	req := c.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr).SetQueryParams(query)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("notion %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Message != "" {
			return fmt.Errorf("notion %s %s: %d %s: %s", method, path, resp.StatusCode(), apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("notion %s %s: %d %s", method, path, resp.StatusCode(), resp.String())
	}
	return nil
}

// QueryDatabase returns every page of a database, optionally filtered.
func (c *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter interface{}) ([]*NotionPage, error) {
	var pages []*NotionPage
	cursor := ""
	for {
		body := map[string]interface{}{"page_size": notionPageSize}
		if filter != nil {
			body["filter"] = filter
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var list notionList
		if err := c.do(ctx, resty.MethodPost, "/v1/databases/"+databaseID+"/query", body, nil, &list); err != nil {
			return nil, err
		}
		var batch []*NotionPage
		if err := json.Unmarshal(list.Results, &batch); err != nil {
			return nil, fmt.Errorf("decode database query: %w", err)
		}
		pages = append(pages, batch...)

		if !list.HasMore || list.NextCursor == "" {
			return pages, nil
		}
		cursor = list.NextCursor
	}
}

// RetrievePage returns a page's metadata and properties.
func (c *NotionClient) RetrievePage(ctx context.Context, pageID string) (*NotionPage, error) {
	var page NotionPage
	if err := c.do(ctx, resty.MethodGet, "/v1/pages/"+pageID, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// BlockChildren returns all direct children of a block or page.
func (c *NotionClient) BlockChildren(ctx context.Context, blockID string) ([]NotionBlock, error) {
	var blocks []NotionBlock
	cursor := ""
	for {
		query := map[string]string{"page_size": fmt.Sprint(notionPageSize)}
		if cursor != "" {
			query["start_cursor"] = cursor
		}

		var list notionList
		if err := c.do(ctx, resty.MethodGet, "/v1/blocks/"+blockID+"/children", nil, query, &list); err != nil {
			return nil, err
		}
		var batch []NotionBlock
		if err := json.Unmarshal(list.Results, &batch); err != nil {
			return nil, fmt.Errorf("decode block children: %w", err)
		}
		blocks = append(blocks, batch...)

		if !list.HasMore || list.NextCursor == "" {
			return blocks, nil
		}
		cursor = list.NextCursor
	}
}

// NotionAdapter exports Notion databases as Dify-ready CSV documents
type NotionAdapter struct {
	client     *NotionClient
	databases  []config.NotionDatabaseMapping
	property   string
	chunkBytes int
	lastSync   time.Time
}

// NewNotionAdapter creates a Notion exporter for the configured databases
func NewNotionAdapter(client *NotionClient, notionCfg config.NotionConfig, cfg config.KnowledgeConfig) *NotionAdapter {
	property := notionCfg.KnowledgeTypeProperty
	if property == "" {
		property = "ナレッジ種別"
	}
	return &NotionAdapter{
		client:     client,
		databases:  cfg.NotionDatabases,
		property:   property,
		chunkBytes: cfg.ChunkBytes,
	}
}

// Name returns the adapter name
func (n *NotionAdapter) Name() string {
	return "notion"
}

// FetchFiles exports each configured database into CSV parts. Databases
// that fail are reported through a *FetchError.
func (n *NotionAdapter) FetchFiles(ctx context.Context) ([]*File, error) {
	var files []*File
	var failures []MappingFailure
	now := time.Now()

	for _, mapping := range n.databases {
		base := "notion_" + strings.ReplaceAll(mapping.DatabaseID, "-", "")
		if mapping.KnowledgeType != "" {
			base += "_" + sanitizeChannelName(mapping.KnowledgeType)
		}
		fail := func(err error) {
			failures = append(failures, MappingFailure{
				Base:      base,
				DatasetID: mapping.DatasetID,
				Err:       fmt.Errorf("database %s: %w", mapping.DatabaseID, err),
			})
		}

		rows, err := n.ExportDatabase(ctx, mapping.DatabaseID, mapping.KnowledgeType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logrus.Errorf("Failed to export Notion database %s: %v", mapping.DatabaseID, err)
			fail(err)
			continue
		}
		if len(rows) == 0 {
			logrus.Warnf("No pages found in Notion database %s", mapping.DatabaseID)
			continue
		}

		parts, err := tableFiles(csvdoc.DifyTable(rows), base, n.Name(), mapping.DatasetID, n.chunkBytes, now)
		if err != nil {
			logrus.Errorf("Failed to build documents for Notion database %s: %v", mapping.DatabaseID, err)
			fail(err)
			continue
		}
		files = append(files, parts...)
	}

	n.lastSync = now
	logrus.Infof("Fetched %d files from %d Notion databases", len(files), len(n.databases))
	return files, partial(n.Name(), failures)
}

// ExportDatabase returns one row per page of the database. When
// knowledgeType is set, only pages whose knowledge type select equals it
// are included.
func (n *NotionAdapter) ExportDatabase(ctx context.Context, databaseID, knowledgeType string) ([]csvdoc.DifyRow, error) {
	var filter interface{}
	if knowledgeType != "" {
		filter = map[string]interface{}{
			"property": n.property,
			"select":   map[string]string{"equals": knowledgeType},
		}
	}

	pages, err := n.client.QueryDatabase(ctx, databaseID, filter)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{databaseID: true}
	rows := make([]csvdoc.DifyRow, 0, len(pages))
	for _, page := range pages {
		row, err := n.pageRow(ctx, page, visited)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	logrus.Infof("Exported %d pages from Notion database %s", len(rows), databaseID)
	return rows, nil
}

// ExportPage returns a single row for one page and everything below it.
func (n *NotionAdapter) ExportPage(ctx context.Context, pageID string) ([]csvdoc.DifyRow, error) {
	page, err := n.client.RetrievePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	row, err := n.pageRow(ctx, page, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return []csvdoc.DifyRow{row}, nil
}

func (n *NotionAdapter) pageRow(ctx context.Context, page *NotionPage, visited map[string]bool) (csvdoc.DifyRow, error) {
	visited[page.ID] = true

	var lines []string
	if err := n.collect(ctx, page.ID, visited, &lines); err != nil {
		return csvdoc.DifyRow{}, err
	}
	title := page.Title()
	if title == "" {
		title = page.CreatedTime
	}
	return csvdoc.DifyRow{
		ParentTimestamp: page.CreatedTime,
		ParentText:      title,
		ChildText:       strings.Join(lines, "\n"),
	}, nil
}

// collect appends the text of every block under id, descending into nested
// blocks, sub-pages and inline databases. visited stops cycles.
func (n *NotionAdapter) collect(ctx context.Context, id string, visited map[string]bool, lines *[]string) error {
	blocks, err := n.client.BlockChildren(ctx, id)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		if text := blockLine(b); text != "" {
			*lines = append(*lines, text)
		}

		switch b.Type {
		case "child_page":
			if visited[b.ID] {
				continue
			}
			visited[b.ID] = true
			if err := n.collect(ctx, b.ID, visited, lines); err != nil {
				return err
			}
		case "child_database":
			if visited[b.ID] {
				continue
			}
			visited[b.ID] = true
			pages, err := n.client.QueryDatabase(ctx, b.ID, nil)
			if err != nil {
				logrus.Warnf("Skipping inline database %s: %v", b.ID, err)
				continue
			}
			for _, page := range pages {
				if visited[page.ID] {
					continue
				}
				visited[page.ID] = true
				if title := page.Title(); title != "" {
					*lines = append(*lines, "## "+title)
				}
				if err := n.collect(ctx, page.ID, visited, lines); err != nil {
					return err
				}
			}
		default:
			if b.HasChildren && !visited[b.ID] {
				visited[b.ID] = true
				if err := n.collect(ctx, b.ID, visited, lines); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func blockLine(b NotionBlock) string {
	if b.Text == "" {
		return ""
	}
	switch b.Type {
	case "heading_1":
		return "# " + b.Text
	case "heading_2", "child_page", "child_database":
		return "## " + b.Text
	case "heading_3":
		return "### " + b.Text
	case "bulleted_list_item", "toggle":
		return "- " + b.Text
	case "numbered_list_item":
		return "1. " + b.Text
	case "to_do":
		return "[ ] " + b.Text
	case "quote":
		return "> " + b.Text
	}
	return b.Text
}

func plainText(spans []NotionRichText) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.PlainText)
	}
	return sb.String()
}

// GetLastSync returns the last sync time
func (n *NotionAdapter) GetLastSync() time.Time {
	return n.lastSync
}

// SetLastSync updates the last sync time
func (n *NotionAdapter) SetLastSync(t time.Time) {
	n.lastSync = t
}
