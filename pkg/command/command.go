// Package command implements the chat command grammar, the command registry,
// and execution under the permission gate.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/permission"
)

// Handler executes one command. It returns the reply text and paths of
// attachments to send along with it.
type Handler func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error)

// Command is one registered command.
type Command struct {
	Name    string
	Origin  string
	Help    string
	Handler Handler
}

// Registry holds the command list and executes invocations. Registration
// happens at startup; execution is read-only afterwards.
type Registry struct {
	commands []Command
	gate     *permission.Gate
}

func NewRegistry(gate *permission.Gate) *Registry {
	return &Registry{gate: gate}
}

// Register adds a command. Duplicate names (case-insensitive) are rejected so
// a plugin cannot silently shadow an earlier command.
func (r *Registry) Register(cmd Command) error {
	for _, existing := range r.commands {
		if strings.EqualFold(existing.Name, cmd.Name) {
			return fmt.Errorf("command %q already registered by %s", cmd.Name, existing.Origin)
		}
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// RegisterAll adds a batch of commands, stopping at the first duplicate.
func (r *Registry) RegisterAll(cmds []Command) error {
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []Command {
	return r.commands
}

// Has reports whether name is a registered command.
func (r *Registry) Has(name string) bool {
	for _, cmd := range r.commands {
		if strings.EqualFold(cmd.Name, name) {
			return true
		}
	}
	return false
}

// Execute runs a parsed invocation for a sender. Permission is checked
// before any lookup; denial and unknown commands are ordinary user-visible
// replies, not errors.
func (r *Registry) Execute(ctx context.Context, chatID, sender, name string, params []string, prompt string) (string, []string) {
	name = strings.ToLower(name)

	if !r.gate.Check(chatID, sender, name) {
		return "⛔ Permission denied for command: " + name, nil
	}

	for _, cmd := range r.commands {
		if !strings.EqualFold(cmd.Name, name) {
			continue
		}
		reply, attachments, err := cmd.Handler(ctx, chatID, params, prompt)
		if err != nil {
			logger.ErrorCF("command", "Command failed", map[string]interface{}{
				"command": name,
				"chat_id": chatID,
				"error":   err.Error(),
			})
			return fmt.Sprintf("❌ Command '%s' failed: %v", name, err), nil
		}
		return reply, attachments
	}

	return "❓ Unknown command: " + name, nil
}
