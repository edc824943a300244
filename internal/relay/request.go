package relay

import (
	"encoding/json"

	"github.com/pkg/errors"

	"relaychat/internal/models"
)

// Client input errors, reported with status 400.
var (
	ErrEmptyBody       = errors.New("Request body is empty")
	ErrInvalidMessages = errors.New("Messages must be an array")
	ErrInvalidRole     = errors.New("Message role must be user or assistant")
)

// wireMessage is the decoded form of one element of "messages".
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseRequest validates a /api/chat body and returns its messages. Errors
// other than the client input errors above are parse faults.
func ParseRequest(body []byte) ([]models.Message, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, errors.Wrap(err, "parsing request body")
	}
	if top == nil {
		return nil, errors.New("parsing request body: body is null")
	}
	obj, ok := top.(map[string]any)
	if !ok {
		return nil, ErrInvalidMessages
	}
	if _, ok := obj["messages"].([]any); !ok {
		return nil, ErrInvalidMessages
	}

	var req struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Wrap(err, "parsing messages")
	}

	out := make([]models.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role, err := models.ParseRole(m.Role)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRole, "message %d: %q", i, m.Role)
		}
		out = append(out, models.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

// IsClientError reports whether err is one of the 400-class input errors.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyBody) ||
		errors.Is(err, ErrInvalidMessages) ||
		errors.Is(err, ErrInvalidRole)
}

// clientMessage is the "error" field sent for a client input error.
func clientMessage(err error) string {
	for _, e := range []error{ErrEmptyBody, ErrInvalidMessages, ErrInvalidRole} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return err.Error()
}
