package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"relaychat/internal/models"
)

const readChunk = 4 << 10

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.Code)
	}
	return fmt.Sprintf("relay returned %d: %s", e.Code, e.Message)
}

// HTTPRelay talks to the relay service over HTTP.
type HTTPRelay struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRelay targets baseURL/api/chat. A nil client means http.DefaultClient.
func NewHTTPRelay(baseURL string, client *http.Client) *HTTPRelay {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		client:   client,
	}
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

func (r *HTTPRelay) Open(ctx context.Context, messages []models.Message) (FragmentStream, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	payload, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "posting to relay")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		statusErr := &StatusError{Code: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &body) == nil {
			statusErr.Message = body.Error
		}
		return nil, statusErr
	}

	return &bodyStream{
		body: resp.Body,
		text: transform.NewReader(resp.Body, unicode.UTF8.NewDecoder()),
		buf:  make([]byte, readChunk),
	}, nil
}

// bodyStream hands out the response body as it arrives. Multi-byte characters
// split across reads are held back until complete.
type bodyStream struct {
	body io.Closer
	text io.Reader
	buf  []byte
}

func (s *bodyStream) Recv() (string, error) {
	for {
		n, err := s.text.Read(s.buf)
		if n > 0 {
			return string(s.buf[:n]), nil
		}
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrap(err, "reading reply")
		}
	}
}

func (s *bodyStream) Close() error {
	return s.body.Close()
}
