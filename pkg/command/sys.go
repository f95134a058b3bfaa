package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pothead-chat/pothead/pkg/history"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/permission"
)

// SysDeps carries what the built-in commands need. Registry is the registry
// the commands themselves are registered into, so help and the grant family
// see plugin commands registered later.
type SysDeps struct {
	Registry        *Registry
	Perms           *permission.Store
	History         *history.History
	FileStorePath   string
	PermissionsPath string
	AttachmentsPath string
}

// RegisterSystemCommands installs the built-in command set.
func RegisterSystemCommands(deps SysDeps) error {
	s := &sysCommands{deps}
	return deps.Registry.RegisterAll([]Command{
		{"help", "sys", "Lists all available commands.", s.help},
		{"save", "sys", "Saves the current prompt, history entries (by index), and attachments to the store.\n    Params: [<index1>,<index2>,...]", s.save},
		{"lsstore", "sys", "Lists files in the local file store.", s.lsStore},
		{"getfile", "sys", "Retrieves a file from the local store by its index.\n    Params: <file_index>", s.getFile},
		{"grant", "sys", "Grants a command permission to a user.\n    Params: <command>,<user_id>", s.grant},
		{"mkgroup", "sys", "Creates a new user group.\n    Params: <group_name>", s.mkGroup},
		{"addmember", "sys", "Adds a user to a group.\n    Params: <group_name>,<user_id>", s.addMember},
		{"grantgroup", "sys", "Grants a command permission to a group.\n    Params: <command>,<group_name>", s.grantGroup},
		{"revoke", "sys", "Revokes a command permission from a user.\n    Params: <command>,<user_id>", s.revoke},
		{"rmmember", "sys", "Removes a user from a group.\n    Params: <group_name>,<user_id>", s.rmMember},
		{"revokegroup", "sys", "Revokes a command permission from a group.\n    Params: <command>,<group_name>", s.revokeGroup},
		{"rmgroup", "sys", "Deletes a user group.\n    Params: <group_name>", s.rmGroup},
		{"lsperms", "sys", "Lists all active permissions for the current chat.", s.lsPerms},
		{"lsdirs", "sys", "Lists the safe filesystem paths for the current chat.", s.lsDirs},
	})
}

type sysCommands struct {
	SysDeps
}

func (s *sysCommands) chatDir(chatID string) string {
	return permission.SafeChatDir(s.FileStorePath, chatID)
}

func (s *sysCommands) localFiles(chatID string) []string {
	entries, err := os.ReadDir(s.chatDir(chatID))
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files
}

// sanitizeFilename keeps only characters safe for a local filename.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case strings.ContainsRune("._- ", c):
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// saveAttachment copies one attachment out of signal-cli's store into destDir.
func (s *sysCommands) saveAttachment(att message.Attachment, destDir string) bool {
	src := filepath.Join(expandHome(s.AttachmentsPath), att.ID)
	data, err := os.ReadFile(src)
	if err != nil {
		logger.WarnCF("command", "Attachment file not found", map[string]interface{}{"path": src})
		return false
	}

	destName := att.ID
	if att.Filename != "" {
		destName = sanitizeFilename(att.Filename)
	}
	dest := filepath.Join(destDir, destName)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		logger.ErrorCF("command", "Failed to copy attachment", map[string]interface{}{
			"src": src, "dest": dest, "error": err.Error(),
		})
		return false
	}
	logger.InfoCF("command", "Saved attachment", map[string]interface{}{"id": att.ID, "dest": dest})
	return true
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func (s *sysCommands) help(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	lines := []string{"🛠️ Available Commands:"}

	byOrigin := map[string][]Command{}
	var origins []string
	for _, cmd := range s.Registry.Commands() {
		if _, seen := byOrigin[cmd.Origin]; !seen {
			origins = append(origins, cmd.Origin)
		}
		byOrigin[cmd.Origin] = append(byOrigin[cmd.Origin], cmd)
	}
	sort.Strings(origins)

	for _, origin := range origins {
		lines = append(lines, "\n"+strings.ToUpper(origin)+":")
		for _, cmd := range byOrigin[origin] {
			lines = append(lines, fmt.Sprintf("  • %s: %s", cmd.Name, cmd.Help))
		}
	}
	return strings.Join(lines, "\n"), nil, nil
}

func (s *sysCommands) save(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	var linesToSave []string
	var attachmentsToSave []message.Attachment

	// The newest history entry is the command message itself; its
	// attachments are saved too.
	if current, ok := s.History.Last(chatID); ok {
		if chat, isChat := current.(*message.ChatMessage); isChat {
			attachmentsToSave = append(attachmentsToSave, chat.Attachments...)
		}
	}

	for _, p := range params {
		idx, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		if idx < 1 || idx >= s.History.Len(chatID) {
			continue
		}
		msg, ok := s.History.FromEnd(chatID, idx)
		if !ok {
			continue
		}
		if chat, isChat := msg.(*message.ChatMessage); isChat {
			if chat.Text != "" {
				linesToSave = append(linesToSave, chat.Text)
			}
			attachmentsToSave = append(attachmentsToSave, chat.Attachments...)
		}
	}

	if prompt != "" {
		linesToSave = append(linesToSave, prompt)
	}

	if len(linesToSave) == 0 && len(attachmentsToSave) == 0 {
		return "⚠️ Nothing to save.", nil, nil
	}

	chatDir := s.chatDir(chatID)
	if err := os.MkdirAll(chatDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create store dir: %w", err)
	}

	if len(linesToSave) > 0 {
		f, err := os.OpenFile(filepath.Join(chatDir, "saved_context.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", nil, fmt.Errorf("open context file: %w", err)
		}
		for _, line := range linesToSave {
			fmt.Fprintln(f, line)
		}
		f.Close()
	}

	saved := 0
	for _, att := range attachmentsToSave {
		if s.saveAttachment(att, chatDir) {
			saved++
		}
	}

	return fmt.Sprintf("💾 Saved %d text items and %d attachments to store.", len(linesToSave), saved), nil, nil
}

func (s *sysCommands) lsStore(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	lines := []string{fmt.Sprintf("📂 File Store for chat '%s':", chatID)}
	files := s.localFiles(chatID)

	lines = append(lines, fmt.Sprintf("\n🏠 Local (%d):", len(files)))
	if len(files) == 0 {
		lines = append(lines, "  (empty)")
	}
	for i, f := range files {
		lines = append(lines, fmt.Sprintf("  %3d: %s", i+1, f))
	}
	return strings.Join(lines, "\n"), nil, nil
}

func (s *sysCommands) getFile(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) == 0 {
		return "⚠️ Usage: getfile,<fileindex:int>", nil, nil
	}
	idx, err := strconv.Atoi(params[0])
	if err != nil {
		return "⚠️ Usage: getfile,<fileindex:int>", nil, nil
	}

	files := s.localFiles(chatID)
	if idx < 1 || idx > len(files) {
		return fmt.Sprintf("⚠️ File index %d not found.", idx), nil, nil
	}

	name := files[idx-1]
	return "Here is " + name, []string{filepath.Join(s.chatDir(chatID), name)}, nil
}

func (s *sysCommands) grant(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: grant,<command>,<user_id>", nil, nil
	}
	cmdName := strings.ToLower(params[0])
	userID := params[1]

	if !s.Registry.Has(cmdName) {
		return "⚠️ Unknown command: " + cmdName, nil, nil
	}

	rec := s.Perms.Load(chatID)
	for _, existing := range rec.Users[userID] {
		if existing == cmdName {
			return fmt.Sprintf("ℹ️ %s already has permission for '%s'.", userID, cmdName), nil, nil
		}
	}
	rec.Users[userID] = append(rec.Users[userID], cmdName)
	if err := s.Perms.Save(chatID, rec); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✅ Granted '%s' to %s.", cmdName, userID), nil, nil
}

func (s *sysCommands) revoke(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: revoke,<command>,<user_id>", nil, nil
	}
	cmdName := strings.ToLower(params[0])
	userID := params[1]

	rec := s.Perms.Load(chatID)
	grants, ok := rec.Users[userID]
	if !ok {
		return fmt.Sprintf("ℹ️ User %s has no permissions to revoke.", userID), nil, nil
	}
	for i, existing := range grants {
		if existing == cmdName {
			rec.Users[userID] = append(grants[:i], grants[i+1:]...)
			if err := s.Perms.Save(chatID, rec); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("✅ Revoked '%s' from %s.", cmdName, userID), nil, nil
		}
	}
	return fmt.Sprintf("ℹ️ %s does not have permission for '%s'.", userID, cmdName), nil, nil
}

func (s *sysCommands) mkGroup(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) == 0 {
		return "⚠️ Usage: mkgroup,<group_name>", nil, nil
	}
	name := params[0]

	rec := s.Perms.Load(chatID)
	if _, exists := rec.Groups[name]; exists {
		return fmt.Sprintf("⚠️ Group '%s' already exists.", name), nil, nil
	}
	rec.Groups[name] = &permission.Group{Members: []string{}, Permissions: []string{}}
	if err := s.Perms.Save(chatID, rec); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✅ Group '%s' created.", name), nil, nil
}

func (s *sysCommands) rmGroup(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) == 0 {
		return "⚠️ Usage: rmgroup,<group_name>", nil, nil
	}
	name := params[0]

	rec := s.Perms.Load(chatID)
	if _, exists := rec.Groups[name]; !exists {
		return fmt.Sprintf("⚠️ Group '%s' not found.", name), nil, nil
	}
	delete(rec.Groups, name)
	if err := s.Perms.Save(chatID, rec); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✅ Group '%s' deleted.", name), nil, nil
}

func (s *sysCommands) addMember(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: addmember,<group_name>,<user_id>", nil, nil
	}
	name, userID := params[0], params[1]

	rec := s.Perms.Load(chatID)
	group, exists := rec.Groups[name]
	if !exists {
		return fmt.Sprintf("⚠️ Group '%s' not found.", name), nil, nil
	}
	for _, m := range group.Members {
		if m == userID {
			return fmt.Sprintf("ℹ️ %s is already in group '%s'.", userID, name), nil, nil
		}
	}
	group.Members = append(group.Members, userID)
	if err := s.Perms.Save(chatID, rec); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✅ Added %s to group '%s'.", userID, name), nil, nil
}

func (s *sysCommands) rmMember(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: rmmember,<group_name>,<user_id>", nil, nil
	}
	name, userID := params[0], params[1]

	rec := s.Perms.Load(chatID)
	group, exists := rec.Groups[name]
	if !exists {
		return fmt.Sprintf("⚠️ Group '%s' not found.", name), nil, nil
	}
	for i, m := range group.Members {
		if m == userID {
			group.Members = append(group.Members[:i], group.Members[i+1:]...)
			if err := s.Perms.Save(chatID, rec); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("✅ Removed %s from group '%s'.", userID, name), nil, nil
		}
	}
	return fmt.Sprintf("ℹ️ %s is not in group '%s'.", userID, name), nil, nil
}

func (s *sysCommands) grantGroup(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: grantgroup,<command>,<group_name>", nil, nil
	}
	cmdName := strings.ToLower(params[0])
	name := params[1]

	if !s.Registry.Has(cmdName) {
		return "⚠️ Unknown command: " + cmdName, nil, nil
	}

	rec := s.Perms.Load(chatID)
	group, exists := rec.Groups[name]
	if !exists {
		return fmt.Sprintf("⚠️ Group '%s' not found.", name), nil, nil
	}
	for _, p := range group.Permissions {
		if p == cmdName {
			return fmt.Sprintf("ℹ️ Group '%s' already has permission for '%s'.", name, cmdName), nil, nil
		}
	}
	group.Permissions = append(group.Permissions, cmdName)
	if err := s.Perms.Save(chatID, rec); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✅ Granted '%s' to group '%s'.", cmdName, name), nil, nil
}

func (s *sysCommands) revokeGroup(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	if len(params) < 2 {
		return "⚠️ Usage: revokegroup,<command>,<group_name>", nil, nil
	}
	cmdName := strings.ToLower(params[0])
	name := params[1]

	rec := s.Perms.Load(chatID)
	group, exists := rec.Groups[name]
	if !exists {
		return fmt.Sprintf("⚠️ Group '%s' not found.", name), nil, nil
	}
	for i, p := range group.Permissions {
		if p == cmdName {
			group.Permissions = append(group.Permissions[:i], group.Permissions[i+1:]...)
			if err := s.Perms.Save(chatID, rec); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("✅ Revoked '%s' from group '%s'.", cmdName, name), nil, nil
		}
	}
	return fmt.Sprintf("ℹ️ Group '%s' does not have permission for '%s'.", name, cmdName), nil, nil
}

func (s *sysCommands) lsPerms(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	rec := s.Perms.Load(chatID)
	lines := []string{fmt.Sprintf("🔐 Permissions for chat '%s':", chatID)}

	if len(rec.Users) == 0 {
		lines = append(lines, "\n👤 User Permissions: (none)")
	} else {
		lines = append(lines, "\n👤 User Permissions:")
		users := make([]string, 0, len(rec.Users))
		for u := range rec.Users {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			cmds := "(none)"
			if len(rec.Users[u]) > 0 {
				cmds = strings.Join(rec.Users[u], ", ")
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s", u, cmds))
		}
	}

	lines = append(lines, "\n👥 Group Permissions:")
	groups := make([]string, 0, len(rec.Groups))
	for g := range rec.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		group := rec.Groups[g]
		members := "(none)"
		if len(group.Members) > 0 {
			members = strings.Join(group.Members, ", ")
		}
		cmds := "(none)"
		if len(group.Permissions) > 0 {
			cmds = strings.Join(group.Permissions, ", ")
		}
		lines = append(lines,
			fmt.Sprintf("  - %s:", g),
			"    Members: "+members,
			"    Commands: "+cmds,
		)
	}

	return strings.Join(lines, "\n"), nil, nil
}

func (s *sysCommands) lsDirs(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	lines := []string{
		fmt.Sprintf("📂 Safe Paths for chat '%s':", chatID),
		"  - File Store: " + permission.SafeChatDir(s.FileStorePath, chatID),
		"  - Permissions: " + permission.SafeChatDir(s.PermissionsPath, chatID),
	}
	return strings.Join(lines, "\n"), nil, nil
}
