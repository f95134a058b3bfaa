// Package ai answers bare prompts through an LLM provider. It also runs as an
// autoresponder in explicitly enabled chats, feeding the recent chat history
// back as conversation context.
package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pothead-chat/pothead/pkg/command"
	"github.com/pothead-chat/pothead/pkg/dispatch"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/plugin"
	"github.com/pothead-chat/pothead/pkg/providers"
)

const chatsFile = "ai_chats.txt"

type Plugin struct {
	env      plugin.Env
	provider providers.Provider

	mu    sync.Mutex
	chats map[string]bool
	path  string
}

// New builds the plugin and its configured provider. A missing API key is an
// error; the runtime skips the plugin and keeps going.
func New(env plugin.Env) (*Plugin, error) {
	prov, err := providers.New(env.Cfg.AI.Provider, env.Cfg.AI.APIKey, env.Cfg.AI.Model)
	if err != nil {
		return nil, err
	}

	p := &Plugin{
		env:      env,
		provider: prov,
		chats:    make(map[string]bool),
		path:     filepath.Join(env.Cfg.FileStorePath, chatsFile),
	}
	for _, id := range env.Cfg.AI.Chats {
		p.chats[id] = true
	}
	p.loadChats()
	return p, nil
}

func (p *Plugin) ID() string { return "ai" }

// loadChats merges persisted autoresponder chat ids into the configured set.
func (p *Plugin) loadChats() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			p.chats[id] = true
		}
	}
}

func (p *Plugin) saveChats() {
	var sb strings.Builder
	for id := range p.chats {
		sb.WriteString(id + "\n")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err == nil {
		err = os.WriteFile(p.path, []byte(sb.String()), 0o644)
		if err != nil {
			logger.ErrorCF("ai", "Failed to save chat list", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (p *Plugin) enabled(chatID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats[chatID]
}

func (p *Plugin) Actions() []dispatch.Action {
	return []dispatch.Action{{
		Name:   "ai-respond",
		Origin: "plugin:ai",
		Match: func(raw *message.Raw) (interface{}, bool) {
			msg, ok := message.FromRaw(raw)
			if !ok {
				return nil, false
			}
			chat, ok := msg.(*message.ChatMessage)
			if !ok || chat.IsSynced || chat.Text == "" {
				return nil, false
			}
			return chat, true
		},
		Filter: func(matched interface{}) bool {
			chat := matched.(*message.ChatMessage)
			if _, isPrompt := p.barePrompt(chat); isPrompt {
				return true
			}
			// In enabled chats every plain message gets a response, but
			// commands stay with the command machinery.
			return p.enabled(chat.ChatID()) &&
				!command.MatchesCommandPrefix(chat.Text, p.env.Cfg.TriggerWords)
		},
		Handler: p.respondToChat,
	}}
}

// barePrompt extracts a trigger-word prompt that is not a command invocation.
func (p *Plugin) barePrompt(chat *message.ChatMessage) (string, bool) {
	var quoteText string
	if chat.Quote != nil {
		quoteText = chat.Quote.Text
	}
	inv, ok := command.ParseInvocation(chat.Text, p.env.Cfg.TriggerWords, quoteText)
	if !ok || inv.IsCommand || inv.Prompt == "" {
		return "", false
	}
	return inv.Prompt, true
}

func (p *Plugin) respondToChat(ctx context.Context, raw *message.Raw) (bool, error) {
	msg, ok := message.FromRaw(raw)
	if !ok {
		return false, nil
	}
	chat, ok := msg.(*message.ChatMessage)
	if !ok {
		return false, nil
	}

	prompt, isPrompt := p.barePrompt(chat)
	if !isPrompt {
		prompt = chat.Text
	}

	reply, err := p.complete(ctx, chat.ChatID(), prompt)
	if err != nil {
		return false, fmt.Errorf("ai response for %s: %w", chat.ChatID(), err)
	}

	out := link.Outbound{Text: reply}
	if chat.GroupID != "" {
		out.GroupID = chat.GroupID
	} else {
		out.Recipient = chat.ChatID()
	}
	p.env.Link.Send(ctx, out, nil, nil)
	return true, nil
}

// complete runs the provider over the chat's history plus the prompt.
func (p *Plugin) complete(ctx context.Context, chatID, prompt string) (string, error) {
	turns := append(p.contextTurns(chatID), providers.Turn{Role: "user", Text: prompt})
	return p.provider.Complete(ctx, p.env.Cfg.AI.SystemInstruction, turns)
}

// contextTurns converts the chat's ring history into alternating provider
// turns. The newest entry is skipped — it is the message being answered.
// Consecutive same-role messages merge, and the transcript always starts
// with a user turn.
func (p *Plugin) contextTurns(chatID string) []providers.Turn {
	if p.env.History == nil {
		return nil
	}

	var turns []providers.Turn
	for offset := p.env.History.Len(chatID) - 1; offset >= 1; offset-- {
		msg, ok := p.env.History.FromEnd(chatID, offset)
		if !ok {
			continue
		}
		chat, ok := msg.(*message.ChatMessage)
		if !ok || chat.Text == "" {
			continue
		}

		role := "user"
		if chat.Source == p.env.Cfg.Account {
			role = "assistant"
		}
		if role == "assistant" && len(turns) == 0 {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Text += "\n" + chat.Text
			continue
		}
		turns = append(turns, providers.Turn{Role: role, Text: chat.Text})
	}
	return turns
}

func (p *Plugin) Commands() []command.Command {
	return []command.Command{
		{
			Name:   "ask",
			Origin: "plugin:ai",
			Help:   "Asks the configured model; the prompt is the question",
			Handler: func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
				if prompt == "" {
					return "ℹ️ Nothing to ask.", nil, nil
				}
				reply, err := p.complete(ctx, chatID, prompt)
				if err != nil {
					return "", nil, err
				}
				return reply, nil, nil
			},
		},
		{
			Name:   "autoenable",
			Origin: "plugin:ai",
			Help:   "Enables the autoresponder in this chat",
			Handler: func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
				p.mu.Lock()
				defer p.mu.Unlock()
				if p.chats[chatID] {
					return "ℹ️ Autoresponder already enabled for this chat.", nil, nil
				}
				p.chats[chatID] = true
				p.saveChats()
				return "✅ Autoresponder enabled for this chat.", nil, nil
			},
		},
		{
			Name:   "autodisable",
			Origin: "plugin:ai",
			Help:   "Disables the autoresponder in this chat",
			Handler: func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
				p.mu.Lock()
				defer p.mu.Unlock()
				if !p.chats[chatID] {
					return "ℹ️ Autoresponder not enabled for this chat.", nil, nil
				}
				delete(p.chats, chatID)
				p.saveChats()
				return "❌ Autoresponder disabled for this chat.", nil, nil
			},
		},
	}
}

var (
	_ plugin.Plugin           = (*Plugin)(nil)
	_ plugin.ProvidesActions  = (*Plugin)(nil)
	_ plugin.ProvidesCommands = (*Plugin)(nil)
)
