// Package bot is the composition root: it wires config, link, dispatcher,
// bus, history, permissions, commands and plugins into a running instance
// fed by signal-cli's stdout.
package bot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pothead-chat/pothead/pkg/command"
	"github.com/pothead-chat/pothead/pkg/config"
	"github.com/pothead-chat/pothead/pkg/dispatch"
	"github.com/pothead-chat/pothead/pkg/events"
	"github.com/pothead-chat/pothead/pkg/history"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/permission"
	"github.com/pothead-chat/pothead/pkg/plugin"
	"github.com/pothead-chat/pothead/pkg/plugins/ai"
	"github.com/pothead-chat/pothead/pkg/plugins/cron"
	"github.com/pothead-chat/pothead/pkg/plugins/echo"
	"github.com/pothead-chat/pothead/pkg/plugins/welcome"
)

const (
	timerInterval = time.Minute

	// shutdownGrace bounds how long in-flight dispatch tasks may run after
	// the read loop ends.
	shutdownGrace = 5 * time.Second
)

// Runtime owns every long-lived component of the bot.
type Runtime struct {
	cfg        *config.Config
	bus        *events.Bus
	dispatcher *dispatch.Dispatcher
	link       *link.Link
	history    *history.History
	archive    *history.Archive
	commands   *command.Registry
	perms      *permission.Store
	plugins    *plugin.Registry

	wg sync.WaitGroup
}

// New wires a runtime writing outbound requests to w (signal-cli's stdin).
func New(cfg *config.Config, w io.Writer) (*Runtime, error) {
	var archive *history.Archive
	if cfg.HistoryDBPath != "" {
		a, err := history.OpenArchive(cfg.HistoryDBPath)
		if err != nil {
			return nil, fmt.Errorf("open history archive: %w", err)
		}
		archive = a
	}

	perms := permission.NewStore(cfg.PermissionsPath)
	hist := history.New(cfg.HistoryMaxLength, archive)

	r := &Runtime{
		cfg:        cfg,
		bus:        events.New(),
		dispatcher: dispatch.New(),
		link:       link.New(cfg.Account, cfg.MessagePrefix, w),
		history:    hist,
		archive:    archive,
		commands:   command.NewRegistry(permission.NewGate(perms, cfg.Superuser)),
		perms:      perms,
		plugins:    plugin.NewRegistry(),
	}

	if err := command.RegisterSystemCommands(command.SysDeps{
		Registry:        r.commands,
		Perms:           perms,
		History:         hist,
		FileStorePath:   cfg.FileStorePath,
		PermissionsPath: cfg.PermissionsPath,
		AttachmentsPath: cfg.AttachmentsPath,
	}); err != nil {
		return nil, fmt.Errorf("register system commands: %w", err)
	}

	r.registerSystemActions()

	if err := r.loadPlugins(); err != nil {
		return nil, err
	}

	r.dispatcher.Seal()
	return r, nil
}

// loadPlugins constructs every enabled built-in and wires its capabilities.
// A plugin whose constructor fails is skipped with a warning, not fatal.
func (r *Runtime) loadPlugins() error {
	env := plugin.Env{
		Cfg:      r.cfg,
		Link:     r.link,
		History:  r.history,
		Commands: r.commands,
		Plugins:  r.plugins,
	}

	builders := []struct {
		id    string
		build func() (plugin.Plugin, error)
	}{
		{"cron", func() (plugin.Plugin, error) { return cron.New(env), nil }},
		{"echo", func() (plugin.Plugin, error) { return echo.New(env), nil }},
		{"welcome", func() (plugin.Plugin, error) { return welcome.New(env), nil }},
		{"ai", func() (plugin.Plugin, error) { return ai.New(env) }},
	}

	for _, b := range builders {
		if !plugin.Enabled(b.id, r.cfg.EnabledPlugins) {
			continue
		}
		p, err := b.build()
		if err != nil {
			logger.WarnCF("bot", "Plugin failed to initialize", map[string]interface{}{
				"plugin": b.id, "error": err.Error(),
			})
			continue
		}
		if err := r.plugins.Register(p); err != nil {
			return err
		}
		if err := r.wirePlugin(p); err != nil {
			return err
		}
		logger.InfoCF("bot", "Plugin loaded", map[string]interface{}{"plugin": b.id})
	}
	return nil
}

func (r *Runtime) wirePlugin(p plugin.Plugin) error {
	if ap, ok := p.(plugin.ProvidesActions); ok {
		r.dispatcher.RegisterAll(ap.Actions())
	}
	if cp, ok := p.(plugin.ProvidesCommands); ok {
		if err := r.commands.RegisterAll(cp.Commands()); err != nil {
			return fmt.Errorf("plugin %s: %w", p.ID(), err)
		}
	}
	if ep, ok := p.(plugin.ProvidesEventHandlers); ok {
		for event, handler := range ep.EventHandlers() {
			r.bus.On(event, handler)
		}
	}
	return nil
}

// --- system actions ---

func (r *Runtime) registerSystemActions() {
	r.dispatcher.RegisterAll([]dispatch.Action{
		{
			Name:     "handle-incoming",
			Origin:   "sys",
			Priority: dispatch.PrioritySys,
			Match: func(raw *message.Raw) (interface{}, bool) {
				msg, ok := message.FromRaw(raw)
				if !ok {
					return nil, false
				}
				return msg, true
			},
			Handler: r.handleIncoming,
		},
		{
			Name:     "command-data",
			Origin:   "sys",
			Priority: dispatch.PrioritySys,
			Match:    r.matchCommand(false),
			Handler:  r.runCommand,
		},
		{
			Name:     "command-sync",
			Origin:   "sys",
			Priority: dispatch.PrioritySys,
			Match:    r.matchCommand(true),
			Handler:  r.runCommand,
		},
	})
}

// handleIncoming is the bookkeeping action every normalizable payload passes
// through first: it applies the settle horizon, records history, and fires
// the message events. It only claims a payload when the horizon drops it.
func (r *Runtime) handleIncoming(ctx context.Context, raw *message.Raw) (bool, error) {
	msg, ok := message.FromRaw(raw)
	if !ok {
		return false, nil
	}

	switch m := msg.(type) {
	case *message.ChatMessage:
		if r.tooOld(m.Timestamp) {
			logger.InfoCF("bot", "Ignoring stale message", map[string]interface{}{
				"chat_id": m.ChatID(), "timestamp": m.Timestamp,
			})
			return true, nil
		}
		r.history.Record(m)
		r.bus.Fire(ctx, events.ChatMessageReceived, m)
	case *message.EditMessage:
		r.bus.Fire(ctx, events.ChatMessageEdited, m)
	case *message.DeleteMessage:
		r.bus.Fire(ctx, events.ChatMessageDeleted, m)
	case *message.GroupUpdateMessage:
		r.bus.Fire(ctx, events.GroupUpdate, m)
	}
	return false, nil
}

// tooOld applies the settle horizon: replayed backlog from signal-cli
// downtime is observed but never answered.
func (r *Runtime) tooOld(timestampMillis int64) bool {
	if r.cfg.SettleSeconds <= 0 || timestampMillis == 0 {
		return false
	}
	age := time.Since(time.UnixMilli(timestampMillis))
	return age > time.Duration(r.cfg.SettleSeconds)*time.Second
}

// matchCommand matches chat messages that look like command invocations,
// split by origin so direct and synced-from-other-device messages are two
// separately observable actions.
func (r *Runtime) matchCommand(synced bool) func(*message.Raw) (interface{}, bool) {
	return func(raw *message.Raw) (interface{}, bool) {
		msg, ok := message.FromRaw(raw)
		if !ok {
			return nil, false
		}
		chat, ok := msg.(*message.ChatMessage)
		if !ok || chat.IsSynced != synced || chat.Text == "" {
			return nil, false
		}
		if !command.MatchesCommandPrefix(chat.Text, r.cfg.TriggerWords) {
			return nil, false
		}
		return chat, true
	}
}

func (r *Runtime) runCommand(ctx context.Context, raw *message.Raw) (bool, error) {
	msg, ok := message.FromRaw(raw)
	if !ok {
		return false, nil
	}
	chat, ok := msg.(*message.ChatMessage)
	if !ok {
		return false, nil
	}

	var quoteText string
	if chat.Quote != nil {
		quoteText = chat.Quote.Text
	}
	inv, ok := command.ParseInvocation(chat.Text, r.cfg.TriggerWords, quoteText)
	if !ok || !inv.IsCommand {
		return false, nil
	}

	logger.InfoCF("bot", "Executing command", map[string]interface{}{
		"command": inv.Name, "chat_id": chat.ChatID(), "sender": chat.Source,
	})
	reply, attachments := r.commands.Execute(ctx, chat.ChatID(), chat.Source, inv.Name, inv.Params, inv.Prompt)
	if reply != "" || len(attachments) > 0 {
		r.reply(ctx, chat, reply, attachments)
	}
	return true, nil
}

// reply sends text back to the chat a message came from and records the
// outbound message so it shows up in history context.
func (r *Runtime) reply(ctx context.Context, to *message.ChatMessage, text string, attachments []string) {
	out := link.Outbound{Text: text}
	if to.GroupID != "" {
		out.GroupID = to.GroupID
	} else {
		out.Recipient = to.ChatID()
	}
	r.link.Send(ctx, out, attachments, nil)

	r.history.Record(&message.ChatMessage{
		Meta: message.Meta{
			Source:      r.cfg.Account,
			Destination: to.ChatID(),
			GroupID:     to.GroupID,
			Timestamp:   time.Now().UnixMilli(),
		},
		Text: text,
	})
}

// --- main loop ---

// Run fires startup, reads stdout line by line until EOF or cancellation,
// and shuts down with a bounded grace period for in-flight tasks.
func (r *Runtime) Run(ctx context.Context, stdout io.Reader) error {
	r.bus.Fire(ctx, events.PostStartup)

	timerCtx, stopTimer := context.WithCancel(ctx)
	go r.timerLoop(timerCtx)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.link.HandleLine(ctx, line, func(ctx context.Context, raw *message.Raw) {
				r.dispatcher.Dispatch(ctx, raw)
			})
		}()
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.ErrorCF("bot", "Read loop failed", map[string]interface{}{"error": err.Error()})
	}

	stopTimer()
	r.shutdown(ctx)
	return nil
}

func (r *Runtime) timerLoop(ctx context.Context) {
	ticker := time.NewTicker(timerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.bus.Fire(ctx, events.Timer, now)
		}
	}
}

// shutdown fires pre-shutdown, then waits out the grace period for in-flight
// dispatch tasks before closing the bus and the archive.
func (r *Runtime) shutdown(ctx context.Context) {
	logger.InfoC("bot", "Shutting down")
	r.bus.Fire(context.WithoutCancel(ctx), events.PreShutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.WarnC("bot", "Shutdown grace period expired with tasks still running")
	}

	r.bus.Close()
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			logger.ErrorCF("bot", "Archive close failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
