// Package history keeps a bounded per-chat ring of recent messages, with an
// optional sqlite archive recording everything that passes through.
package history

import (
	"sync"

	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
)

// History holds the per-chat rings. Safe for concurrent use; dispatch tasks
// for different inbound lines record into it concurrently.
type History struct {
	maxLen  int
	mu      sync.Mutex
	chats   map[string][]message.Message
	archive *Archive
}

// New creates a history keeping at most maxLen messages per chat. The
// archive may be nil.
func New(maxLen int, archive *Archive) *History {
	if maxLen <= 0 {
		maxLen = 30
	}
	return &History{maxLen: maxLen, chats: make(map[string][]message.Message), archive: archive}
}

// Record appends a message to its chat's ring, evicting the oldest entry
// beyond the ring bound, and mirrors it into the archive when one is open.
func (h *History) Record(msg message.Message) {
	chatID := msg.ChatID()

	h.mu.Lock()
	ring := append(h.chats[chatID], msg)
	if len(ring) > h.maxLen {
		ring = ring[len(ring)-h.maxLen:]
	}
	h.chats[chatID] = ring
	h.mu.Unlock()

	if h.archive != nil {
		if err := h.archive.Append(msg); err != nil {
			logger.ErrorCF("history", "Archive append failed", map[string]interface{}{
				"chat_id": chatID,
				"error":   err.Error(),
			})
		}
	}
}

// Len returns the number of ring entries for a chat.
func (h *History) Len(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chats[chatID])
}

// FromEnd returns the message offset entries before the newest one; offset 0
// is the newest.
func (h *History) FromEnd(chatID string, offset int) (message.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := h.chats[chatID]
	idx := len(ring) - 1 - offset
	if idx < 0 || idx >= len(ring) {
		return nil, false
	}
	return ring[idx], true
}

// Last returns the newest entry for a chat.
func (h *History) Last(chatID string) (message.Message, bool) {
	return h.FromEnd(chatID, 0)
}
