package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
	"github.com/ops-euc-admin/ops-app-repo/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	defaultDeletePollInterval = 2 * time.Second
	defaultDeletePollAttempts = 15
)

// Manager uploads adapter files into Dify datasets and keeps them in step
type Manager struct {
	client          dify.DatasetClient
	storagePath     string
	indexPath       string
	datasetID       string
	replaceExisting bool

	pollInterval time.Duration
	pollAttempts int

	mu        gosync.Mutex
	fileIndex map[string]*FileMetadata
}

// FileMetadata stores metadata about synced files
type FileMetadata struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	DocumentID string    `json:"document_id"`
	DatasetID  string    `json:"dataset_id"`
	Source     string    `json:"source"`
	SyncedAt   time.Time `json:"synced_at"`
	Modified   time.Time `json:"modified"`
}

// NewManager creates a new sync manager
func NewManager(client dify.DatasetClient, knowledgeConfig config.KnowledgeConfig, storageConfig config.StorageConfig) (*Manager, error) {
	if err := os.MkdirAll(storageConfig.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	manager := &Manager{
		client:          client,
		storagePath:     storageConfig.Path,
		indexPath:       filepath.Join(storageConfig.Path, "file_index.json"),
		replaceExisting: knowledgeConfig.ReplaceExisting,
		pollInterval:    defaultDeletePollInterval,
		pollAttempts:    defaultDeletePollAttempts,
		fileIndex:       make(map[string]*FileMetadata),
	}

	if err := manager.loadFileIndex(); err != nil {
		logrus.Warnf("Failed to load file index: %v", err)
	}

	return manager, nil
}

// SetDatasetID sets the dataset used for files that do not name one
func (m *Manager) SetDatasetID(datasetID string) {
	logrus.Debugf("Setting default dataset ID: %s", datasetID)
	m.datasetID = datasetID
}

// SyncFiles fetches every adapter's files and uploads new or changed ones.
// Documents whose file disappeared from a source that fetched cleanly are
// deleted from their dataset.
func (m *Manager) SyncFiles(ctx context.Context, adapters []adapter.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logrus.Info("Starting knowledge synchronization")

	currentFiles := make(map[string]bool)
	fetched := make(map[string]bool)
	failed := 0

	for _, adpt := range adapters {
		logrus.Infof("Syncing files from adapter: %s", adpt.Name())

		files, err := adpt.FetchFiles(ctx)
		partial, isPartial := adapter.IsPartial(err)
		if err != nil && !isPartial {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.Errorf("Failed to fetch files from adapter %s: %v", adpt.Name(), err)
			continue
		}
		fetched[adpt.Name()] = true
		if isPartial {
			logrus.Warnf("Adapter %s fetched partially, keeping documents of failed mappings: %v", adpt.Name(), partial)
			m.keepFailed(adpt.Name(), partial, currentFiles)
		}
		logrus.Debugf("Fetched %d files from adapter %s", len(files), adpt.Name())

		for _, file := range files {
			currentFiles[indexKey(adpt.Name(), file.Path)] = true

			if err := m.syncFile(ctx, file, adpt.Name()); err != nil {
				failed++
				metrics.KnowledgeDocuments.WithLabelValues("failed").Inc()
				logrus.Errorf("Failed to sync file %s: %v", file.Path, err)
			}
		}

		adpt.SetLastSync(time.Now())
	}

	m.cleanupOrphanedFiles(ctx, currentFiles, fetched)

	if err := m.saveFileIndex(); err != nil {
		logrus.Errorf("Failed to save file index: %v", err)
	}

	if failed > 0 {
		logrus.Warnf("Knowledge synchronization completed with %d failed files", failed)
		return fmt.Errorf("%d files failed to sync", failed)
	}
	logrus.Info("Knowledge synchronization completed")
	return nil
}

func (m *Manager) syncFile(ctx context.Context, file *adapter.File, source string) error {
	key := indexKey(source, file.Path)
	datasetID := file.DatasetID
	if datasetID == "" {
		datasetID = m.datasetID
	}
	if datasetID == "" {
		return fmt.Errorf("no dataset configured for %s", key)
	}

	existing, exists := m.fileIndex[key]
	if exists && existing.Hash == file.Hash && existing.DatasetID == datasetID {
		logrus.Debugf("File %s unchanged, skipping", file.Path)
		metrics.KnowledgeDocuments.WithLabelValues("skipped").Inc()
		return nil
	}

	if exists && existing.DocumentID != "" {
		logrus.Infof("File %s has changed, replacing document %s", file.Path, existing.DocumentID)
		if err := m.deleteDocument(ctx, existing.DatasetID, existing.DocumentID); err != nil {
			logrus.Warnf("Failed to delete previous document for %s: %v", file.Path, err)
		}
	}

	localPath := filepath.Join(m.storagePath, "files", source, file.Path)
	if err := m.saveFileLocally(localPath, file.Content); err != nil {
		return fmt.Errorf("failed to save file locally: %w", err)
	}

	doc, err := m.upload(ctx, datasetID, DocumentName(file.Path), file.Content, m.replaceExisting)
	if err != nil {
		return err
	}

	m.fileIndex[key] = &FileMetadata{
		Path:       file.Path,
		Hash:       file.Hash,
		DocumentID: doc.ID,
		DatasetID:  datasetID,
		Source:     source,
		SyncedAt:   time.Now(),
		Modified:   file.Modified,
	}

	logrus.Infof("Successfully synced file: %s (document %s)", file.Path, doc.ID)
	return nil
}

// UploadDocument creates a document from content. With replace set, any
// document of the same name is deleted first and its removal awaited.
func (m *Manager) UploadDocument(ctx context.Context, datasetID, name string, content []byte, replace bool) (*dify.Document, error) {
	if datasetID == "" {
		datasetID = m.datasetID
	}
	if datasetID == "" {
		return nil, fmt.Errorf("dataset ID is required")
	}
	return m.upload(ctx, datasetID, name, content, replace)
}

func (m *Manager) upload(ctx context.Context, datasetID, name string, content []byte, replace bool) (*dify.Document, error) {
	if replace {
		if err := m.replaceNamed(ctx, datasetID, name); err != nil {
			return nil, err
		}
	}

	doc, err := m.client.CreateDocumentByFile(ctx, datasetID, name, content)
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", name, err)
	}
	metrics.KnowledgeDocuments.WithLabelValues("created").Inc()
	return doc, nil
}

func (m *Manager) replaceNamed(ctx context.Context, datasetID, name string) error {
	docs, err := m.client.ListDocuments(ctx, datasetID, name)
	if err != nil {
		return fmt.Errorf("failed to list documents named %s: %w", name, err)
	}

	deleted := 0
	for _, doc := range docs {
		if doc.Name != name {
			continue
		}
		if err := m.deleteDocument(ctx, datasetID, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		deleted++
	}
	if deleted == 0 {
		return nil
	}

	logrus.Debugf("Waiting for %d documents named %s to disappear", deleted, name)
	if err := m.client.WaitDocumentDeleted(ctx, datasetID, name, m.pollInterval, m.pollAttempts); err != nil {
		return fmt.Errorf("existing document %s was not removed: %w", name, err)
	}
	return nil
}

func (m *Manager) deleteDocument(ctx context.Context, datasetID, documentID string) error {
	err := m.client.DeleteDocument(ctx, datasetID, documentID)
	if err != nil && !dify.IsNotFound(err) {
		return err
	}
	metrics.KnowledgeDocuments.WithLabelValues("deleted").Inc()
	return nil
}

// keepFailed marks the indexed documents of failed mappings as present so
// orphan cleanup leaves them alone.
func (m *Manager) keepFailed(source string, partial *adapter.FetchError, currentFiles map[string]bool) {
	for key, metadata := range m.fileIndex {
		if metadata.Source == source && partial.Covers(metadata.Path, metadata.DatasetID, m.datasetID) {
			currentFiles[key] = true
		}
	}
}

// cleanupOrphanedFiles removes documents whose source file is gone. Entries
// of adapters that failed to fetch this round are left alone.
func (m *Manager) cleanupOrphanedFiles(ctx context.Context, currentFiles, fetched map[string]bool) {
	for key, metadata := range m.fileIndex {
		if currentFiles[key] || !fetched[metadata.Source] {
			continue
		}

		if metadata.DocumentID != "" {
			if err := m.deleteDocument(ctx, metadata.DatasetID, metadata.DocumentID); err != nil {
				logrus.Warnf("Failed to remove orphaned document %s: %v", metadata.DocumentID, err)
				continue
			}
		}

		localPath := filepath.Join(m.storagePath, "files", metadata.Source, metadata.Path)
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			logrus.Debugf("Failed to remove local copy %s: %v", localPath, err)
		}

		delete(m.fileIndex, key)
		logrus.Infof("Removed orphaned file: %s", metadata.Path)
	}
}

func (m *Manager) saveFileLocally(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (m *Manager) loadFileIndex() error {
	data, err := os.ReadFile(m.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file index: %w", err)
	}
	if err := json.Unmarshal(data, &m.fileIndex); err != nil {
		return fmt.Errorf("failed to unmarshal file index: %w", err)
	}
	return nil
}

func (m *Manager) saveFileIndex() error {
	data, err := json.MarshalIndent(m.fileIndex, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal file index: %w", err)
	}
	if err := os.WriteFile(m.indexPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file index: %w", err)
	}
	logrus.Debugf("Saved file index with %d files to %s", len(m.fileIndex), m.indexPath)
	return nil
}

func indexKey(source, path string) string {
	return source + ":" + path
}

// DocumentName is the dataset document name used for a file path.
func DocumentName(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "/", "_")
}

// GetFileHash calculates the hash of a file
func GetFileHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
