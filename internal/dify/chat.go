package dify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Response modes for chat-messages.
const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"
)

// Stream event discriminators.
const (
	EventMessage        = "message"
	EventAgentMessage   = "agent_message"
	EventAgentThought   = "agent_thought"
	EventMessageEnd     = "message_end"
	EventMessageReplace = "message_replace"
	EventError          = "error"
	EventPing           = "ping"
)

// FileRef attaches a previously uploaded (or remote) file to a chat request.
type FileRef struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	UploadFileID   string `json:"upload_file_id,omitempty"`
	URL            string `json:"url,omitempty"`
}

// ImageFile references an uploaded image by its Dify file id.
func ImageFile(uploadFileID string) FileRef {
	return FileRef{Type: "image", TransferMethod: "local_file", UploadFileID: uploadFileID}
}

// ChatRequest is the body of POST /v1/chat-messages.
type ChatRequest struct {
	Inputs         map[string]interface{} `json:"inputs"`
	Query          string                 `json:"query"`
	ResponseMode   string                 `json:"response_mode"`
	ConversationID string                 `json:"conversation_id"`
	User           string                 `json:"user"`
	Files          []FileRef              `json:"files,omitempty"`
}

// ChatResponse is the blocking-mode answer.
type ChatResponse struct {
	Event          string `json:"event"`
	TaskID         string `json:"task_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	CreatedAt      int64  `json:"created_at"`
}

// Event is one `data:` line of a streamed answer.
type Event struct {
	Event          string `json:"event"`
	TaskID         string `json:"task_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Thought        string `json:"thought"`
	Status         int    `json:"status"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// Stream reads events from a streaming chat response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &Stream{body: body, scanner: scanner}
}

// NewStream wraps an event-stream body. It is exported for callers that
// replay recorded streams.
func NewStream(r io.Reader) *Stream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return newStream(rc)
}

// Next returns the next event. It returns io.EOF after message_end or when
// the body ends, and an *APIError when the server sends an error event.
// Fragments that are not valid JSON are skipped.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logrus.Debugf("Skipping unparsable stream fragment: %v", err)
			continue
		}

		switch ev.Event {
		case EventPing, "":
			continue
		case EventError:
			s.done = true
			return ev, &APIError{StatusCode: ev.Status, Code: ev.Code, Message: ev.Message}
		case EventMessageEnd:
			s.done = true
		}
		return ev, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrStreamAborted, err)
	}
	return Event{}, io.EOF
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// ChatStream sends a streaming chat request. The caller must Close the stream.
func (c *Client) ChatStream(ctx context.Context, chatReq ChatRequest) (*Stream, error) {
	if strings.TrimSpace(chatReq.Query) == "" {
		return nil, ErrEmptyQuery
	}
	chatReq.ResponseMode = ResponseModeStreaming
	if chatReq.Inputs == nil {
		chatReq.Inputs = map[string]interface{}{}
	}

	body, err := jsonBody(chatReq)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat-messages", c.apiKey, body, "application/json")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	logrus.Debugf("Starting Dify stream for user %s (conversation %q)", chatReq.User, chatReq.ConversationID)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(resp.StatusCode, data)
	}

	return newStream(resp.Body), nil
}

// ChatBlocking sends a blocking chat request and returns the full answer.
func (c *Client) ChatBlocking(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(chatReq.Query) == "" {
		return nil, ErrEmptyQuery
	}
	chatReq.ResponseMode = ResponseModeBlocking
	if chatReq.Inputs == nil {
		chatReq.Inputs = map[string]interface{}{}
	}

	body, err := jsonBody(chatReq)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat-messages", c.apiKey, body, "application/json")
	if err != nil {
		return nil, err
	}

	var out ChatResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
