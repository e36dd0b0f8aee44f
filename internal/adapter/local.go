// Ops Helpdesk Bot
// Copyright (C) 2025  Ops Helpdesk Bot Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
	"github.com/sirupsen/logrus"
)

// LocalFolderAdapter uploads CSV files that already sit on disk, such as the
// output of the export commands.
type LocalFolderAdapter struct {
	folders    []config.LocalFolderMapping
	chunkBytes int
	lastSync   time.Time
}

// NewLocalFolderAdapter creates a new local folder adapter
func NewLocalFolderAdapter(cfg config.KnowledgeConfig) (*LocalFolderAdapter, error) {
	var folders []config.LocalFolderMapping
	for _, mapping := range cfg.LocalFolders {
		if mapping.FolderPath == "" || mapping.DatasetID == "" {
			continue
		}
		if _, err := os.Stat(mapping.FolderPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("folder does not exist: %s", mapping.FolderPath)
		}
		folders = append(folders, mapping)
	}

	if len(folders) == 0 {
		return nil, fmt.Errorf("at least one local folder mapping must be configured")
	}

	return &LocalFolderAdapter{
		folders:    folders,
		chunkBytes: cfg.ChunkBytes,
	}, nil
}

// Name returns the adapter name
func (l *LocalFolderAdapter) Name() string {
	return "local"
}

// FetchFiles returns every CSV file under the configured folders. Files over
// the part size are split with the header repeated.
func (l *LocalFolderAdapter) FetchFiles(ctx context.Context) ([]*File, error) {
	var files []*File

	for _, mapping := range l.folders {
		logrus.Debugf("Fetching CSV files from local folder: %s", mapping.FolderPath)
		folderFiles, err := l.fetchFolderFiles(ctx, mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch files from folder %s: %w", mapping.FolderPath, err)
		}
		logrus.Debugf("Found %d files in folder %s (dataset: %s)", len(folderFiles), mapping.FolderPath, mapping.DatasetID)
		files = append(files, folderFiles...)
	}

	l.lastSync = time.Now()
	logrus.Debugf("Total files fetched: %d", len(files))
	return files, nil
}

func (l *LocalFolderAdapter) fetchFolderFiles(ctx context.Context, mapping config.LocalFolderMapping) ([]*File, error) {
	var files []*File
	root := filepath.Base(filepath.Clean(mapping.FolderPath))

	err := filepath.WalkDir(mapping.FolderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logrus.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if path != mapping.FolderPath && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".csv") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logrus.Warnf("Failed to read file %s: %v", path, err)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logrus.Warnf("Failed to get file info for %s: %v", path, err)
			return nil
		}
		relPath, err := filepath.Rel(mapping.FolderPath, path)
		if err != nil {
			logrus.Warnf("Failed to calculate relative path for %s: %v", path, err)
			return nil
		}
		relPath = filepath.ToSlash(filepath.Join(root, relPath))

		if l.chunkBytes <= 0 || len(content) <= l.chunkBytes {
			files = append(files, newFile(relPath, l.Name(), mapping.DatasetID, content, info.ModTime()))
			return nil
		}

		table, err := csvdoc.ReadTable(bytes.NewReader(content))
		if err != nil {
			logrus.Warnf("Skipping unreadable CSV %s: %v", path, err)
			return nil
		}
		parts, err := tableFiles(table, strings.TrimSuffix(relPath, filepath.Ext(relPath)), l.Name(), mapping.DatasetID, l.chunkBytes, info.ModTime())
		if err != nil {
			logrus.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		files = append(files, parts...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", mapping.FolderPath, err)
	}

	return files, nil
}

// GetLastSync returns the last sync time
func (l *LocalFolderAdapter) GetLastSync() time.Time {
	return l.lastSync
}

// SetLastSync sets the last sync time
func (l *LocalFolderAdapter) SetLastSync(t time.Time) {
	l.lastSync = t
}
