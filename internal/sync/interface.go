package sync

import (
	"context"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
)

// ManagerInterface defines the interface for sync manager operations
type ManagerInterface interface {
	SyncFiles(ctx context.Context, adapters []adapter.Adapter) error
	UploadDocument(ctx context.Context, datasetID, name string, content []byte, replace bool) (*dify.Document, error)
	SetDatasetID(datasetID string)
}
