// Package welcome greets new group members. It tracks each group's roster,
// reacts to group-update envelopes by fetching the member list, and sends the
// stored welcome text when the list grew.
package welcome

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pothead-chat/pothead/pkg/command"
	"github.com/pothead-chat/pothead/pkg/dispatch"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/permission"
	"github.com/pothead-chat/pothead/pkg/plugin"
)

const (
	membersFile = "members.csv"
	messageFile = "welcome_message.txt"

	groupInfoTimeout = 10 * time.Second
)

// Member is one group roster entry. Number may be empty for contacts known
// only by uuid; those never count as new.
type Member struct {
	Number string
	UUID   string
}

type groupInfoReply struct {
	Result []struct {
		ID      string `json:"id"`
		Members []struct {
			Number string `json:"number"`
			UUID   string `json:"uuid"`
		} `json:"members"`
	} `json:"result"`
}

type Plugin struct {
	env     plugin.Env
	baseDir string
	mu      sync.Mutex
}

func New(env plugin.Env) *Plugin {
	return &Plugin{
		env:     env,
		baseDir: filepath.Join(env.Cfg.FileStorePath, "welcome"),
	}
}

func (p *Plugin) ID() string { return "welcome" }

func (p *Plugin) Actions() []dispatch.Action {
	return []dispatch.Action{{
		Name:   "welcome-group-update",
		Origin: "plugin:welcome",
		Match: func(raw *message.Raw) (interface{}, bool) {
			msg, ok := message.FromRaw(raw)
			if !ok {
				return nil, false
			}
			upd, ok := msg.(*message.GroupUpdateMessage)
			if !ok || upd.GroupID == "" {
				return nil, false
			}
			return upd, true
		},
		Handler: p.onGroupUpdate,
	}}
}

func (p *Plugin) onGroupUpdate(ctx context.Context, raw *message.Raw) (bool, error) {
	msg, ok := message.FromRaw(raw)
	if !ok {
		return false, nil
	}
	upd, ok := msg.(*message.GroupUpdateMessage)
	if !ok {
		return false, nil
	}

	logger.InfoCF("welcome", "Group update received", map[string]interface{}{"group": upd.GroupID})
	p.env.Link.RequestGroupInfo(ctx, upd.GroupID, p.onGroupInfo)
	return true, nil
}

// onGroupInfo diffs the fetched roster against the saved one. New members get
// the stored welcome text; the roster is re-saved either way so it stays
// fresh.
func (p *Plugin) onGroupInfo(ctx context.Context, payload []byte) {
	groupID, members, err := parseGroupInfo(payload)
	if err != nil {
		logger.WarnCF("welcome", "Unreadable group info", map[string]interface{}{"error": err.Error()})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := p.newMembers(groupID, members)
	if len(fresh) > 0 {
		logger.InfoCF("welcome", "New members detected", map[string]interface{}{
			"group": groupID, "count": len(fresh),
		})
		p.sendWelcome(ctx, groupID)
	}

	if err := p.saveMembers(groupID, members); err != nil {
		logger.ErrorCF("welcome", "Failed to save roster", map[string]interface{}{
			"group": groupID, "error": err.Error(),
		})
	}
}

func parseGroupInfo(payload []byte) (string, []Member, error) {
	var reply groupInfoReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return "", nil, err
	}
	if len(reply.Result) == 0 || reply.Result[0].ID == "" {
		return "", nil, fmt.Errorf("no group in reply")
	}

	group := reply.Result[0]
	members := make([]Member, 0, len(group.Members))
	for _, m := range group.Members {
		members = append(members, Member{Number: m.Number, UUID: m.UUID})
	}
	return group.ID, members, nil
}

func (p *Plugin) groupDir(groupID string) string {
	return permission.SafeChatDir(p.baseDir, groupID)
}

// newMembers returns the members whose number is absent from the saved
// roster. A missing roster file means every current member counts as new; the
// welcome still only goes out when a welcome text was stored.
func (p *Plugin) newMembers(groupID string, members []Member) []Member {
	known := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(p.groupDir(groupID), membersFile))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if fields := strings.Split(strings.TrimSpace(line), ","); fields[0] != "" {
				known[fields[0]] = true
			}
		}
	}

	var fresh []Member
	for _, m := range members {
		if m.Number != "" && !known[m.Number] {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

func (p *Plugin) saveMembers(groupID string, members []Member) error {
	dir := p.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var sb strings.Builder
	for _, m := range members {
		sb.WriteString(m.Number + "," + m.UUID + "\n")
	}
	return os.WriteFile(filepath.Join(dir, membersFile), []byte(sb.String()), 0o644)
}

func (p *Plugin) sendWelcome(ctx context.Context, groupID string) {
	data, err := os.ReadFile(filepath.Join(p.groupDir(groupID), messageFile))
	if err != nil {
		// Group was never initialized with a welcome text.
		return
	}
	p.env.Link.Send(ctx, link.Outbound{Text: string(data), GroupID: groupID}, nil, nil)
}

func (p *Plugin) Commands() []command.Command {
	return []command.Command{{
		Name:    "initgroup",
		Origin:  "plugin:welcome",
		Help:    "Stores the current group roster; the prompt becomes the welcome message",
		Handler: p.initGroup,
	}}
}

// initGroup snapshots the current roster so only later joins count as new,
// and stores the prompt as the group's welcome text.
func (p *Plugin) initGroup(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
	done := make(chan []byte, 1)
	p.env.Link.RequestGroupInfo(ctx, chatID, func(ctx context.Context, payload []byte) {
		done <- payload
	})

	var payload []byte
	select {
	case payload = <-done:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-time.After(groupInfoTimeout):
		return "", nil, fmt.Errorf("timed out waiting for group info")
	}

	groupID, members, err := parseGroupInfo(payload)
	if err != nil {
		return "", nil, fmt.Errorf("group info for %s: %w", chatID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.saveMembers(groupID, members); err != nil {
		return "", nil, err
	}
	if prompt != "" {
		if err := os.WriteFile(filepath.Join(p.groupDir(groupID), messageFile), []byte(prompt), 0o644); err != nil {
			return "", nil, err
		}
	}
	return fmt.Sprintf("✅ Initialized group with %d members.", len(members)), nil, nil
}

var (
	_ plugin.Plugin           = (*Plugin)(nil)
	_ plugin.ProvidesActions  = (*Plugin)(nil)
	_ plugin.ProvidesCommands = (*Plugin)(nil)
)
