package dify

import (
	"context"
	"time"
)

// ChatClient is what the relay bot needs from Dify.
type ChatClient interface {
	ChatStream(ctx context.Context, req ChatRequest) (*Stream, error)
	ChatBlocking(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	UploadFile(ctx context.Context, user, filename string, content []byte) (*UploadedFile, error)
}

// DatasetClient is what the knowledge sync needs from Dify.
type DatasetClient interface {
	CreateDocumentByFile(ctx context.Context, datasetID, filename string, content []byte) (*Document, error)
	ListDocuments(ctx context.Context, datasetID, keyword string) ([]*Document, error)
	DeleteDocument(ctx context.Context, datasetID, documentID string) error
	WaitDocumentDeleted(ctx context.Context, datasetID, name string, interval time.Duration, attempts int) error
}

// ClientInterface defines the interface for Dify client operations
type ClientInterface interface {
	ChatClient
	DatasetClient
}

var _ ClientInterface = (*Client)(nil)
