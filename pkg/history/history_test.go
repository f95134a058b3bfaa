package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pothead-chat/pothead/pkg/message"
)

func chatMsg(source, text string) *message.ChatMessage {
	return &message.ChatMessage{
		Meta: message.Meta{Source: source, Timestamp: 1},
		Text: text,
	}
}

func TestRecordAndFromEnd(t *testing.T) {
	h := New(10, nil)
	h.Record(chatMsg("+a", "one"))
	h.Record(chatMsg("+a", "two"))
	h.Record(chatMsg("+a", "three"))

	last, ok := h.Last("+a")
	require.True(t, ok)
	assert.Equal(t, "three", last.(*message.ChatMessage).Text)

	prev, ok := h.FromEnd("+a", 1)
	require.True(t, ok)
	assert.Equal(t, "two", prev.(*message.ChatMessage).Text)

	_, ok = h.FromEnd("+a", 3)
	assert.False(t, ok)
}

func TestRingEvictsOldest(t *testing.T) {
	h := New(3, nil)
	for i := 0; i < 5; i++ {
		h.Record(chatMsg("+a", fmt.Sprintf("msg%d", i)))
	}

	assert.Equal(t, 3, h.Len("+a"))
	oldest, ok := h.FromEnd("+a", 2)
	require.True(t, ok)
	assert.Equal(t, "msg2", oldest.(*message.ChatMessage).Text)
}

func TestChatsAreIndependent(t *testing.T) {
	h := New(5, nil)
	h.Record(chatMsg("+a", "for a"))
	h.Record(chatMsg("+b", "for b"))

	assert.Equal(t, 1, h.Len("+a"))
	assert.Equal(t, 1, h.Len("+b"))
	assert.Equal(t, 0, h.Len("+c"))
}

func TestArchiveRecordsMessages(t *testing.T) {
	archive, err := OpenArchive(":memory:")
	require.NoError(t, err)
	defer archive.Close()

	h := New(5, archive)
	h.Record(chatMsg("+a", "archived"))
	h.Record(&message.DeleteMessage{
		Meta:                message.Meta{Source: "+a", Timestamp: 2},
		TargetSentTimestamp: 1,
	})

	n, err := archive.Count("+a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
