package models

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("user")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, r)

	r, err = ParseRole("assistant")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	for _, bad := range []string{"", "system", "User", "tool"} {
		_, err := ParseRole(bad)
		assert.True(t, errors.Is(err, ErrInvalidRole), "role %q", bad)
	}
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "Hello", TitleFrom("Hello"))
	assert.Equal(t, "exactly twenty chars", TitleFrom("exactly twenty chars"))
	assert.Equal(t, "this title is longer...", TitleFrom("this title is longer than twenty"))
	// Counted in runes, not bytes.
	assert.Equal(t, "ééééééééééééééééééé€...", TitleFrom("ééééééééééééééééééé€€"))
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "Just now", timestampAt(now.Add(-10*time.Second), now))
	assert.Equal(t, "5 minutes ago", timestampAt(now.Add(-5*time.Minute), now))
}

func TestPreview(t *testing.T) {
	c := Conversation{}
	assert.Equal(t, "", c.Preview(10))

	c.Messages = []Message{NewUserMessage("hi"), NewAssistantMessage("a rather long answer")}
	assert.Equal(t, "a rather l...", c.Preview(10))
}

func TestHasUserMessage(t *testing.T) {
	assert.False(t, HasUserMessage(nil))
	assert.False(t, HasUserMessage([]Message{NewAssistantMessage("x")}))
	assert.True(t, HasUserMessage([]Message{NewAssistantMessage("x"), NewUserMessage("y")}))
}

func TestCloneMessages(t *testing.T) {
	assert.Nil(t, CloneMessages(nil))

	src := []Message{NewUserMessage("a")}
	dst := CloneMessages(src)
	dst[0].Content = "b"
	assert.Equal(t, "a", src[0].Content)
}
