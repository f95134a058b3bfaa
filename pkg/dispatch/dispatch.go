// Package dispatch routes inbound protocol lines through a priority-ordered
// list of predicate-gated actions.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
)

// Priority orders actions. Higher runs first; system bookkeeping registers at
// PrioritySys so it always sees a payload before any plugin does.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PrioritySys
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PrioritySys:
		return "SYS"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Handler processes a matched payload. Returning true means the message was
// fully handled and no lower-priority action should see it; false means
// further processing is fine.
type Handler func(ctx context.Context, raw *message.Raw) (bool, error)

// Action is one predicate/handler pair. Match performs the structural test
// against the raw payload and returns the matched value; Filter, when set,
// additionally vets that value.
type Action struct {
	Name     string
	Origin   string
	Priority Priority
	Match    func(raw *message.Raw) (interface{}, bool)
	Filter   func(matched interface{}) bool
	Handler  Handler
}

// Dispatcher holds the action list. Registration happens once at startup;
// Seal sorts by descending priority (stable, so ties keep registration
// order) before the first Dispatch.
type Dispatcher struct {
	actions []Action
	sealed  bool
}

func New() *Dispatcher {
	return &Dispatcher{}
}

// Register adds an action. Must not be called after Seal.
func (d *Dispatcher) Register(a Action) {
	if d.sealed {
		panic("dispatch: Register after Seal")
	}
	if a.Priority == 0 {
		a.Priority = PriorityNormal
	}
	d.actions = append(d.actions, a)
}

// RegisterAll adds a batch of actions.
func (d *Dispatcher) RegisterAll(actions []Action) {
	for _, a := range actions {
		d.Register(a)
	}
}

// Seal sorts the action list exactly once. Dispatch before Seal panics.
func (d *Dispatcher) Seal() {
	sort.SliceStable(d.actions, func(i, j int) bool {
		return d.actions[i].Priority > d.actions[j].Priority
	})
	d.sealed = true
	logger.InfoCF("dispatch", "Action list sealed", map[string]interface{}{
		"actions": len(d.actions),
	})
}

// Actions returns the sealed action list, for diagnostics.
func (d *Dispatcher) Actions() []Action {
	return d.actions
}

// Dispatch walks the sorted list and invokes the first matching handlers
// until one reports the payload fully handled. Match or filter failures are
// logged and treated as a non-match; handler errors are logged and dispatch
// continues. Nothing here is ever fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, raw *message.Raw) {
	if !d.sealed {
		panic("dispatch: Dispatch before Seal")
	}
	for i := range d.actions {
		a := &d.actions[i]
		if !matches(a, raw) {
			continue
		}
		handled, err := a.Handler(ctx, raw)
		if err != nil {
			logger.ErrorCF("dispatch", "Action handler failed", map[string]interface{}{
				"action": a.Name,
				"origin": a.Origin,
				"error":  err.Error(),
			})
			continue
		}
		if handled {
			logger.DebugCF("dispatch", "Payload handled", map[string]interface{}{
				"action": a.Name,
			})
			return
		}
	}
}

// matches evaluates the structural match plus the optional filter. A panic in
// either counts as a non-match.
func matches(a *Action, raw *message.Raw) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatch", "Match evaluation failed", map[string]interface{}{
				"action": a.Name,
				"error":  fmt.Sprint(r),
			})
			ok = false
		}
	}()

	matched, found := a.Match(raw)
	if !found {
		return false
	}
	if a.Filter != nil && !a.Filter(matched) {
		return false
	}
	logger.DebugCF("dispatch", "Action matched", map[string]interface{}{"action": a.Name})
	return true
}
