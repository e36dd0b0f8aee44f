package adapter

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
	"github.com/slack-go/slack"
)

// File is one document ready for upload to a Dify dataset
type File struct {
	Path      string    `json:"path"`
	Content   []byte    `json:"content"`
	Hash      string    `json:"hash"`
	Modified  time.Time `json:"modified"`
	Size      int64     `json:"size"`
	Source    string    `json:"source"`
	DatasetID string    `json:"dataset_id,omitempty"`
}

// Adapter defines the interface for knowledge sources
type Adapter interface {
	// Name returns the adapter name
	Name() string

	// FetchFiles retrieves files from the data source
	FetchFiles(ctx context.Context) ([]*File, error)

	// GetLastSync returns the last sync timestamp
	GetLastSync() time.Time

	// SetLastSync updates the last sync timestamp
	SetLastSync(t time.Time)
}

// MappingFailure identifies the documents of one mapping that could not be
// exported. An empty Base covers every document of the source in DatasetID.
type MappingFailure struct {
	Base      string
	DatasetID string
	Err       error
}

// FetchError is returned by FetchFiles together with the files of the
// mappings that did export. Documents built earlier from a failed mapping are
// still present at the source and must not be treated as orphans.
type FetchError struct {
	Source   string
	Failures []MappingFailure
}

func (e *FetchError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Err.Error())
	}
	return fmt.Sprintf("%s: %d mappings failed: %s", e.Source, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Covers reports whether the document at path in datasetID was built from a
// failed mapping. Mappings without a dataset use defaultDataset.
func (e *FetchError) Covers(path, datasetID, defaultDataset string) bool {
	for _, f := range e.Failures {
		ds := f.DatasetID
		if ds == "" {
			ds = defaultDataset
		}
		if ds != datasetID {
			continue
		}
		if f.Base == "" || isPart(path, f.Base) {
			return true
		}
	}
	return false
}

// partial wraps failures into a *FetchError, or returns nil.
func partial(source string, failures []MappingFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &FetchError{Source: source, Failures: failures}
}

// IsPartial reports whether err only covers some mappings of a source.
func IsPartial(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// isPart matches the <base>_<n>.csv names produced by tableFiles.
func isPart(path, base string) bool {
	rest, ok := strings.CutPrefix(path, base+"_")
	if !ok {
		return false
	}
	num, ok := strings.CutSuffix(rest, ".csv")
	if !ok || num == "" {
		return false
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func newFile(path, source, datasetID string, content []byte, modified time.Time) *File {
	return &File{
		Path:      path,
		Content:   content,
		Hash:      fmt.Sprintf("%x", sha256.Sum256(content)),
		Modified:  modified,
		Size:      int64(len(content)),
		Source:    source,
		DatasetID: datasetID,
	}
}

// tableFiles chunks a table into byte-bounded parts named <base>_<n>.csv.
func tableFiles(t *csvdoc.Table, base, source, datasetID string, maxBytes int, modified time.Time) ([]*File, error) {
	parts, err := csvdoc.ChunkBySize(t, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", base, err)
	}

	files := make([]*File, 0, len(parts))
	for i, part := range parts {
		content, err := part.Bytes()
		if err != nil {
			return nil, fmt.Errorf("encode %s part %d: %w", base, i+1, err)
		}
		files = append(files, newFile(fmt.Sprintf("%s_%d.csv", base, i+1), source, datasetID, content, modified))
	}
	return files, nil
}

// FromConfig builds an adapter for every knowledge source that has mappings.
// slackClient is used for channel exports; nil creates one from the bot token.
func FromConfig(cfg *config.Config, slackClient SlackHistoryClient) ([]Adapter, error) {
	var adapters []Adapter

	if len(cfg.Knowledge.SlackChannels) > 0 {
		if slackClient == nil {
			slackClient = slack.New(cfg.Slack.BotToken, slack.OptionDebug(cfg.Slack.Debug))
		}
		adapters = append(adapters, NewSlackAdapter(slackClient, cfg.Knowledge))
	}

	if len(cfg.Knowledge.NotionDatabases) > 0 {
		client := NewNotionClient(cfg.Notion.BaseURL, cfg.Notion.Token)
		adapters = append(adapters, NewNotionAdapter(client, cfg.Notion, cfg.Knowledge))
	}

	if len(cfg.Knowledge.LocalFolders) > 0 {
		local, err := NewLocalFolderAdapter(cfg.Knowledge)
		if err != nil {
			return nil, fmt.Errorf("failed to create local folder adapter: %w", err)
		}
		adapters = append(adapters, local)
	}

	return adapters, nil
}
