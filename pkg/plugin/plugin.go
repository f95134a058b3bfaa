// Package plugin defines the capability interfaces built-in plugins implement
// and the registry the runtime wires them through.
package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pothead-chat/pothead/pkg/command"
	"github.com/pothead-chat/pothead/pkg/config"
	"github.com/pothead-chat/pothead/pkg/dispatch"
	"github.com/pothead-chat/pothead/pkg/events"
	"github.com/pothead-chat/pothead/pkg/history"
	"github.com/pothead-chat/pothead/pkg/link"
)

// Env is everything a plugin constructor may need. Plugins keep only what
// they use.
type Env struct {
	Cfg      *config.Config
	Link     *link.Link
	History  *history.History
	Commands *command.Registry
	Plugins  *Registry
}

// Plugin is the minimal contract: a stable id used for the config
// enable-list and duplicate detection. Everything else is optional and
// discovered through the capability interfaces below.
type Plugin interface {
	ID() string
}

// ProvidesActions contributes dispatch actions.
type ProvidesActions interface {
	Actions() []dispatch.Action
}

// ProvidesCommands contributes registry commands.
type ProvidesCommands interface {
	Commands() []command.Command
}

// ProvidesEventHandlers subscribes to bus events.
type ProvidesEventHandlers interface {
	EventHandlers() map[events.Event]events.Handler
}

// ProvidesServices exposes name-keyed values other plugins can look up.
type ProvidesServices interface {
	Services() map[string]interface{}
}

// Registry holds the activated plugins and their published services.
type Registry struct {
	mu       sync.RWMutex
	plugins  []Plugin
	byID     map[string]Plugin
	services map[string]interface{}
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]Plugin),
		services: make(map[string]interface{}),
	}
}

// Register adds a plugin. A second plugin with the same id (case-insensitive)
// is rejected; its services are published immediately.
func (r *Registry) Register(p Plugin) error {
	id := strings.ToLower(p.ID())
	if id == "" {
		return fmt.Errorf("plugin id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[id]; dup {
		return fmt.Errorf("plugin '%s' already registered", p.ID())
	}
	r.byID[id] = p
	r.plugins = append(r.plugins, p)

	if sp, ok := p.(ProvidesServices); ok {
		for name, svc := range sp.Services() {
			r.services[name] = svc
		}
	}
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Service looks up a published service by name.
func (r *Registry) Service(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Enabled reports whether the enable-list activates the plugin id. An empty
// list activates nothing; configuration is explicit about what runs.
func Enabled(id string, enabled []string) bool {
	for _, e := range enabled {
		if strings.EqualFold(e, id) {
			return true
		}
	}
	return false
}
