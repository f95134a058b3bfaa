// Package permission decides whether a sender may invoke a command in a chat.
// Records are kept per chat as JSON files under sha256-hashed directories, so
// arbitrary chat ids never touch the filesystem namespace directly.
package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/pothead-chat/pothead/pkg/logger"
)

// AllGroup is the reserved group whose membership implicitly includes every
// sender.
const AllGroup = "ALL"

// Record holds the grants for one chat.
type Record struct {
	Users  map[string][]string `json:"users"`
	Groups map[string]*Group   `json:"groups"`
}

// Group is a named set of members sharing a set of command grants.
type Group struct {
	Members     []string `json:"members"`
	Permissions []string `json:"permissions"`
}

// SafeChatDir maps a chat id to a filesystem-safe directory under base.
func SafeChatDir(base, chatID string) string {
	sum := sha256.Sum256([]byte(chatID))
	return filepath.Join(base, hex.EncodeToString(sum[:]))
}

// Store persists one Record per chat.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) file(chatID string) (string, error) {
	dir := SafeChatDir(s.baseDir, chatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create permission dir: %w", err)
	}
	return filepath.Join(dir, "permissions.json"), nil
}

// Load reads the record for a chat. A missing or unreadable file yields an
// empty record; the reserved ALL group is always seeded.
func (s *Store) Load(chatID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{Users: map[string][]string{}, Groups: map[string]*Group{}}

	path, err := s.file(chatID)
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if err := json.Unmarshal(data, rec); err != nil {
				logger.ErrorCF("permission", "Failed to parse permissions", map[string]interface{}{
					"chat_id": chatID,
					"error":   err.Error(),
				})
				rec = &Record{Users: map[string][]string{}, Groups: map[string]*Group{}}
			}
		}
	}

	if rec.Users == nil {
		rec.Users = map[string][]string{}
	}
	if rec.Groups == nil {
		rec.Groups = map[string]*Group{}
	}
	if _, ok := rec.Groups[AllGroup]; !ok {
		rec.Groups[AllGroup] = &Group{Members: []string{}, Permissions: []string{}}
	}
	return rec
}

// Save writes the record for a chat.
func (s *Store) Save(chatID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.file(chatID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write permissions: %w", err)
	}
	return nil
}

// Gate evaluates permission checks against stored records.
type Gate struct {
	store     *Store
	superuser string
}

func NewGate(store *Store, superuser string) *Gate {
	return &Gate{store: store, superuser: superuser}
}

// Check reports whether sender may run command in chatID. The check order is
// fixed: superuser, then a direct user grant, then any group the sender
// belongs to (the ALL group counts everyone as a member).
func (g *Gate) Check(chatID, sender, command string) bool {
	if g.superuser != "" && sender == g.superuser {
		return true
	}

	rec := g.store.Load(chatID)

	if slices.Contains(rec.Users[sender], command) {
		return true
	}

	for name, group := range rec.Groups {
		if name != AllGroup && !slices.Contains(group.Members, sender) {
			continue
		}
		if slices.Contains(group.Permissions, command) {
			return true
		}
	}
	return false
}
