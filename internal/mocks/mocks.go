package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
)

// MockDifyClient is a mock implementation of the Dify client
type MockDifyClient struct {
	ChatStreamFunc           func(ctx context.Context, req dify.ChatRequest) (*dify.Stream, error)
	ChatBlockingFunc         func(ctx context.Context, req dify.ChatRequest) (*dify.ChatResponse, error)
	UploadFileFunc           func(ctx context.Context, user, filename string, content []byte) (*dify.UploadedFile, error)
	CreateDocumentByFileFunc func(ctx context.Context, datasetID, filename string, content []byte) (*dify.Document, error)
	ListDocumentsFunc        func(ctx context.Context, datasetID, keyword string) ([]*dify.Document, error)
	DeleteDocumentFunc       func(ctx context.Context, datasetID, documentID string) error
	WaitDocumentDeletedFunc  func(ctx context.Context, datasetID, name string, interval time.Duration, attempts int) error

	mu    sync.Mutex
	Calls []string
}

var _ dify.ClientInterface = (*MockDifyClient)(nil)

func (m *MockDifyClient) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallCount returns how many recorded calls start with prefix
func (m *MockDifyClient) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// ChatStream mocks the ChatStream method. By default it answers "mock answer".
func (m *MockDifyClient) ChatStream(ctx context.Context, req dify.ChatRequest) (*dify.Stream, error) {
	m.record("ChatStream:" + req.Query)
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, req)
	}
	return SSEStream(
		`{"event":"message","answer":"mock answer","conversation_id":"mock-conv"}`,
		`{"event":"message_end","conversation_id":"mock-conv","message_id":"mock-msg"}`,
	), nil
}

// ChatBlocking mocks the ChatBlocking method
func (m *MockDifyClient) ChatBlocking(ctx context.Context, req dify.ChatRequest) (*dify.ChatResponse, error) {
	m.record("ChatBlocking:" + req.Query)
	if m.ChatBlockingFunc != nil {
		return m.ChatBlockingFunc(ctx, req)
	}
	return &dify.ChatResponse{Answer: "mock answer", ConversationID: "mock-conv", MessageID: "mock-msg"}, nil
}

// UploadFile mocks the UploadFile method
func (m *MockDifyClient) UploadFile(ctx context.Context, user, filename string, content []byte) (*dify.UploadedFile, error) {
	m.record("UploadFile:" + filename)
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, user, filename, content)
	}
	return &dify.UploadedFile{ID: "mock-upload-id", Name: filename, Size: int64(len(content))}, nil
}

// CreateDocumentByFile mocks the CreateDocumentByFile method
func (m *MockDifyClient) CreateDocumentByFile(ctx context.Context, datasetID, filename string, content []byte) (*dify.Document, error) {
	m.record("CreateDocumentByFile:" + filename)
	if m.CreateDocumentByFileFunc != nil {
		return m.CreateDocumentByFileFunc(ctx, datasetID, filename, content)
	}
	return &dify.Document{ID: "mock-doc-" + filename, Name: filename}, nil
}

// ListDocuments mocks the ListDocuments method
func (m *MockDifyClient) ListDocuments(ctx context.Context, datasetID, keyword string) ([]*dify.Document, error) {
	m.record("ListDocuments:" + keyword)
	if m.ListDocumentsFunc != nil {
		return m.ListDocumentsFunc(ctx, datasetID, keyword)
	}
	return nil, nil
}

// DeleteDocument mocks the DeleteDocument method
func (m *MockDifyClient) DeleteDocument(ctx context.Context, datasetID, documentID string) error {
	m.record("DeleteDocument:" + documentID)
	if m.DeleteDocumentFunc != nil {
		return m.DeleteDocumentFunc(ctx, datasetID, documentID)
	}
	return nil
}

// WaitDocumentDeleted mocks the WaitDocumentDeleted method
func (m *MockDifyClient) WaitDocumentDeleted(ctx context.Context, datasetID, name string, interval time.Duration, attempts int) error {
	m.record("WaitDocumentDeleted:" + name)
	if m.WaitDocumentDeletedFunc != nil {
		return m.WaitDocumentDeletedFunc(ctx, datasetID, name, interval, attempts)
	}
	return nil
}

// SSEStream builds a Dify stream from JSON event payloads.
func SSEStream(events ...string) *dify.Stream {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString("data: ")
		sb.WriteString(e)
		sb.WriteString("\n\n")
	}
	return dify.NewStream(strings.NewReader(sb.String()))
}

// MockAdapter is a mock implementation of the Adapter interface
type MockAdapter struct {
	NameFunc        func() string
	FetchFilesFunc  func(ctx context.Context) ([]*adapter.File, error)
	GetLastSyncFunc func() time.Time
	SetLastSyncFunc func(t time.Time)
	lastSync        time.Time
}

// Name mocks the Name method
func (m *MockAdapter) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-adapter"
}

// FetchFiles mocks the FetchFiles method
func (m *MockAdapter) FetchFiles(ctx context.Context) ([]*adapter.File, error) {
	if m.FetchFilesFunc != nil {
		return m.FetchFilesFunc(ctx)
	}
	return []*adapter.File{
		{
			Path:      "test.csv",
			Content:   []byte("parent_timestamp,parent_text,child_text\n1.0,hello,\n"),
			Hash:      "test-hash",
			Modified:  time.Now(),
			Size:      48,
			Source:    "mock",
			DatasetID: "mock-dataset",
		},
	}, nil
}

// GetLastSync mocks the GetLastSync method
func (m *MockAdapter) GetLastSync() time.Time {
	if m.GetLastSyncFunc != nil {
		return m.GetLastSyncFunc()
	}
	return m.lastSync
}

// SetLastSync mocks the SetLastSync method
func (m *MockAdapter) SetLastSync(t time.Time) {
	if m.SetLastSyncFunc != nil {
		m.SetLastSyncFunc(t)
	} else {
		m.lastSync = t
	}
}
