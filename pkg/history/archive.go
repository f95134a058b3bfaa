package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pothead-chat/pothead/pkg/message"
)

// Archive is a durable sqlite log of every message the runtime records.
// Unlike the in-memory rings it is append-only and unbounded.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL,
	source     TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp);
`

// OpenArchive opens (creating if needed) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Append writes one message row.
func (a *Archive) Append(msg message.Message) error {
	kind, text := describe(msg)
	meta := msg.Common()
	_, err := a.db.Exec(
		`INSERT INTO messages (chat_id, source, timestamp, kind, text) VALUES (?, ?, ?, ?, ?)`,
		msg.ChatID(), meta.Source, meta.Timestamp, kind, text,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Count returns the number of archived rows for a chat.
func (a *Archive) Count(chatID string) (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func describe(msg message.Message) (kind, text string) {
	switch m := msg.(type) {
	case *message.ChatMessage:
		return "chat", m.Text
	case *message.EditMessage:
		return "edit", m.Text
	case *message.DeleteMessage:
		return "delete", ""
	case *message.ReactionMessage:
		return "reaction", m.Emoji
	case *message.ReceiptMessage:
		return "receipt", ""
	case *message.TypingMessage:
		return "typing", m.Action
	case *message.GroupUpdateMessage:
		return "group_update", m.GroupName
	}
	return "unknown", ""
}
