package dify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/sirupsen/logrus"
)

// UploadedFile is the response of POST /v1/files/upload.
type UploadedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

// UploadFile uploads a file for use in a following chat request.
func (c *Client) UploadFile(ctx context.Context, user, filename string, content []byte) (*UploadedFile, error) {
	logrus.Debugf("Uploading file to Dify: %s (size: %d bytes)", filename, len(content))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.WriteField("user", user); err != nil {
		return nil, fmt.Errorf("failed to write user field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files/upload", c.apiKey, &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var file UploadedFile
	if err := c.doJSON(req, &file); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}

	logrus.Debugf("Successfully uploaded file: ID=%s, Name=%s", file.ID, file.Name)
	return &file, nil
}
