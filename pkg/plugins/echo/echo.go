// Package echo is the demonstration plugin: it echoes plain chat messages,
// answers ping, and reports startup/shutdown to the superuser.
package echo

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pothead-chat/pothead/pkg/command"
	"github.com/pothead-chat/pothead/pkg/dispatch"
	"github.com/pothead-chat/pothead/pkg/events"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/plugin"
	"github.com/pothead-chat/pothead/pkg/plugins/cron"
)

type Plugin struct {
	env plugin.Env
}

func New(env plugin.Env) *Plugin {
	return &Plugin{env: env}
}

func (p *Plugin) ID() string { return "echo" }

func (p *Plugin) Actions() []dispatch.Action {
	return []dispatch.Action{{
		Name:     "echo-chat",
		Origin:   "plugin:echo",
		Priority: dispatch.PriorityLow,
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
			return !p.hasTrigger(chat.Text)
		},
		Handler: p.echoChat,
	}}
}

func (p *Plugin) echoChat(ctx context.Context, raw *message.Raw) (bool, error) {
	msg, ok := message.FromRaw(raw)
	if !ok {
		return false, nil
	}
	chat, ok := msg.(*message.ChatMessage)
	if !ok {
		return false, nil
	}

	out := link.Outbound{Text: "🔊 " + chat.Text}
	if chat.GroupID != "" {
		out.GroupID = chat.GroupID
	} else {
		out.Recipient = chat.ChatID()
	}
	p.env.Link.Send(ctx, out, nil, p.confirmDelivery)
	return true, nil
}

// confirmDelivery logs the server timestamp of the echoed message.
func (p *Plugin) confirmDelivery(ctx context.Context, payload []byte) {
	var reply struct {
		Result struct {
			Timestamp int64 `json:"timestamp"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		logger.WarnCF("echo", "Unreadable send confirmation", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.DebugCF("echo", "Echo delivered", map[string]interface{}{
		"timestamp": reply.Result.Timestamp,
	})
}

func (p *Plugin) hasTrigger(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, tw := range p.env.Cfg.TriggerWords {
		if tw != "" && strings.HasPrefix(lower, strings.ToLower(tw)) {
			return true
		}
	}
	return false
}

func (p *Plugin) Commands() []command.Command {
	return []command.Command{
		{
			Name:   "ping",
			Origin: "plugin:echo",
			Help:   "Responds with Pong!",
			Handler: func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
				return "Pong!", nil, nil
			},
		},
		{
			Name:   "echo",
			Origin: "plugin:echo",
			Help:   "Repeats the prompt back",
			Handler: func(ctx context.Context, chatID string, params []string, prompt string) (string, []string, error) {
				if prompt == "" {
					return "🔊 Nothing to echo.", nil, nil
				}
				return "🔊 " + prompt, nil, nil
			},
		},
	}
}

func (p *Plugin) EventHandlers() map[events.Event]events.Handler {
	return map[events.Event]events.Handler{
		events.PostStartup: p.onStartup,
		events.PreShutdown: p.onShutdown,
	}
}

func (p *Plugin) onStartup(ctx context.Context, args ...interface{}) error {
	p.notifySuperuser(ctx, "🤖 pothead online.")

	// Hourly heartbeat through the cron service, when that plugin runs too.
	if svc, ok := p.env.Plugins.Service(cron.ServiceName); ok {
		if sched, ok := svc.(*cron.Scheduler); ok {
			return sched.Add("echo-heartbeat", "0 * * * *", func(ctx context.Context) {
				logger.InfoC("echo", "Heartbeat")
			})
		}
	}
	return nil
}

func (p *Plugin) onShutdown(ctx context.Context, args ...interface{}) error {
	p.notifySuperuser(ctx, "🤖 pothead shutting down.")
	return nil
}

func (p *Plugin) notifySuperuser(ctx context.Context, text string) {
	if p.env.Cfg.Superuser == "" {
		return
	}
	p.env.Link.Send(ctx, link.Outbound{Text: text, Recipient: p.env.Cfg.Superuser}, nil, nil)
}

var (
	_ plugin.Plugin                = (*Plugin)(nil)
	_ plugin.ProvidesActions       = (*Plugin)(nil)
	_ plugin.ProvidesCommands      = (*Plugin)(nil)
	_ plugin.ProvidesEventHandlers = (*Plugin)(nil)
)
