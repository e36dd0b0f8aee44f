package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const documentPageLimit = 100

// Document is a knowledge document inside a dataset.
type Document struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Position       int    `json:"position"`
	DataSourceType string `json:"data_source_type"`
	IndexingStatus string `json:"indexing_status"`
	Enabled        bool   `json:"enabled"`
	WordCount      int    `json:"word_count"`
	CreatedAt      int64  `json:"created_at"`
}

type documentList struct {
	Data    []*Document `json:"data"`
	HasMore bool        `json:"has_more"`
	Limit   int         `json:"limit"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
}

type processRule struct {
	Mode string `json:"mode"`
}

type createByFileData struct {
	IndexingTechnique string      `json:"indexing_technique"`
	ProcessRule       processRule `json:"process_rule"`
}

// CreateDocumentByFile uploads content as a new document of the dataset.
func (c *Client) CreateDocumentByFile(ctx context.Context, datasetID, filename string, content []byte) (*Document, error) {
	logrus.Debugf("Creating document %s in dataset %s (size: %d bytes)", filename, datasetID, len(content))

	data, err := json.Marshal(createByFileData{
		IndexingTechnique: "high_quality",
		ProcessRule:       processRule{Mode: "automatic"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document settings: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("data", string(data)); err != nil {
		return nil, fmt.Errorf("failed to write data field: %w", err)
	}
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	path := fmt.Sprintf("/v1/datasets/%s/document/create-by-file", url.PathEscape(datasetID))
	req, err := c.newRequest(ctx, http.MethodPost, path, c.datasetAPIKey, &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var out struct {
		Document *Document `json:"document"`
		Batch    string    `json:"batch"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("create document %s: %w", filename, err)
	}
	if out.Document == nil {
		return nil, fmt.Errorf("create document %s: response carried no document", filename)
	}

	logrus.Debugf("Created document %s (ID=%s, batch=%s)", out.Document.Name, out.Document.ID, out.Batch)
	return out.Document, nil
}

// ListDocuments returns every document of the dataset whose name matches
// keyword (all documents when keyword is empty), following pagination.
func (c *Client) ListDocuments(ctx context.Context, datasetID, keyword string) ([]*Document, error) {
	var docs []*Document

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(documentPageLimit))
		if keyword != "" {
			q.Set("keyword", keyword)
		}
		path := fmt.Sprintf("/v1/datasets/%s/documents?%s", url.PathEscape(datasetID), q.Encode())

		req, err := c.newRequest(ctx, http.MethodGet, path, c.datasetAPIKey, nil, "")
		if err != nil {
			return nil, err
		}

		var list documentList
		if err := c.doJSON(req, &list); err != nil {
			return nil, fmt.Errorf("list documents of %s: %w", datasetID, err)
		}
		docs = append(docs, list.Data...)

		if !list.HasMore || len(list.Data) == 0 {
			break
		}
	}

	return docs, nil
}

// DeleteDocument removes a document from the dataset.
func (c *Client) DeleteDocument(ctx context.Context, datasetID, documentID string) error {
	path := fmt.Sprintf("/v1/datasets/%s/documents/%s", url.PathEscape(datasetID), url.PathEscape(documentID))
	req, err := c.newRequest(ctx, http.MethodDelete, path, c.datasetAPIKey, nil, "")
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	logrus.Debugf("Deleted document %s from dataset %s", documentID, datasetID)
	return nil
}

// WaitDocumentDeleted polls until no document named name remains in the
// dataset. Deletion is asynchronous on Dify's side.
func (c *Client) WaitDocumentDeleted(ctx context.Context, datasetID, name string, interval time.Duration, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		docs, err := c.ListDocuments(ctx, datasetID, name)
		if err != nil {
			return err
		}
		if !containsName(docs, name) {
			return nil
		}

		logrus.Debugf("Document %s still present in dataset %s (check %d/%d)", name, datasetID, i+1, attempts)
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("document %s still present in dataset %s after %d checks", name, datasetID, attempts)
}

func containsName(docs []*Document, name string) bool {
	for _, d := range docs {
		if d.Name == name {
			return true
		}
	}
	return false
}
