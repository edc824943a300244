package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/models"
	"relaychat/internal/provider"
	"relaychat/internal/relay"
	"relaychat/internal/store"
)

func collect(t *testing.T, stream FragmentStream) ([]string, error) {
	t.Helper()
	defer stream.Close()
	var out []string
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

// chunked writes each chunk and flushes it, pausing between chunks so they
// reach the client as separate reads.
func chunked(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}
}

func TestHTTPRelayPostsTranscript(t *testing.T) {
	var got struct {
		Messages []models.Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		chunked("Hi", " there")(w, r)
	}))
	t.Cleanup(srv.Close)

	msgs := []models.Message{models.NewUserMessage("Hello")}
	stream, err := NewHTTPRelay(srv.URL+"/", nil).Open(context.Background(), msgs)
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", strings.Join(fragments, ""))
	assert.Equal(t, msgs, got.Messages)
}

func TestHTTPRelayStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Messages must be an array"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPRelay(srv.URL, nil).Open(context.Background(), nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, "Messages must be an array", statusErr.Message)
	assert.Equal(t, "relay returned 400: Messages must be an array", err.Error())
}

func TestHTTPRelayKeepsSplitCharactersWhole(t *testing.T) {
	// "é" is C3 A9 and "✨" is E2 9C A8; both are cut between chunks.
	srv := httptest.NewServer(chunked("caf\xc3", "\xa9 \xe2\x9c", "\xa8"))
	t.Cleanup(srv.Close)

	stream, err := NewHTTPRelay(srv.URL, nil).Open(context.Background(), nil)
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	require.NoError(t, err)
	for _, f := range fragments {
		assert.True(t, utf8.ValidString(f), "fragment %q splits a character", f)
	}
	assert.Equal(t, "café ✨", strings.Join(fragments, ""))
}

func TestHTTPRelayReplacesInvalidBytes(t *testing.T) {
	srv := httptest.NewServer(chunked("a\xffb"))
	t.Cleanup(srv.Close)

	stream, err := NewHTTPRelay(srv.URL, nil).Open(context.Background(), nil)
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "a�b", strings.Join(fragments, ""))
}

func TestHTTPRelayTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Hi")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(srv.Close)

	stream, err := NewHTTPRelay(srv.URL, nil).Open(context.Background(), nil)
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	assert.Error(t, err)
	assert.Equal(t, "Hi", strings.Join(fragments, ""))
}

func TestHTTPRelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(chunked("never"))
	url := srv.URL
	srv.Close()

	s, st := newSession(t, NewHTTPRelay(url, nil))
	err := s.Send(context.Background(), "Hello")
	require.Error(t, err)

	got, _ := st.Messages(1)
	assert.Equal(t, []models.Message{
		models.NewUserMessage("Hello"),
		models.NewAssistantMessage(ErrorReply),
	}, got)
	assert.False(t, s.Snapshot().Sending)
}

type stubProvider struct {
	fragments []string
	err       error
}

func (p *stubProvider) Stream(context.Context, []models.Message) (provider.Stream, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &sliceStream{fragments: p.fragments}, nil
}

func TestSessionThroughRelayService(t *testing.T) {
	p := &stubProvider{fragments: []string{"Hi", " there", ", how can I help?"}}
	srv := httptest.NewServer(relay.NewEngine(p, zerolog.Nop()))
	t.Cleanup(srv.Close)

	st, err := store.New(context.Background())
	require.NoError(t, err)
	s := NewSession(st, NewHTTPRelay(srv.URL, srv.Client()))

	require.NoError(t, s.Send(context.Background(), "Hello"))

	got, _ := st.Messages(1)
	assert.Equal(t, []models.Message{
		models.NewUserMessage("Hello"),
		models.NewAssistantMessage("Hi there, how can I help?"),
	}, got)
}

func TestSessionThroughRelayServiceFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("provider unavailable")}
	srv := httptest.NewServer(relay.NewEngine(p, zerolog.Nop()))
	t.Cleanup(srv.Close)

	s, st := newSession(t, NewHTTPRelay(srv.URL, srv.Client()))
	err := s.Send(context.Background(), "Hello")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "Failed to process request", statusErr.Message)

	got, _ := st.Messages(1)
	assert.Equal(t, models.NewAssistantMessage(ErrorReply), got[len(got)-1])
}
