package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pothead-chat/pothead/pkg/message"
)

func matchAll(raw *message.Raw) (interface{}, bool) { return raw, true }

func recording(calls *[]string, name string, handled bool) Action {
	return Action{
		Name:  name,
		Match: matchAll,
		Handler: func(ctx context.Context, raw *message.Raw) (bool, error) {
			*calls = append(*calls, name)
			return handled, nil
		},
	}
}

func TestDispatchStopsAtFirstHandled(t *testing.T) {
	var calls []string
	d := New()

	low := recording(&calls, "low", true)
	low.Priority = PriorityLow
	sys := recording(&calls, "sys", false)
	sys.Priority = PrioritySys
	high := recording(&calls, "high", true)
	high.Priority = PriorityHigh

	// Registered out of order on purpose.
	d.RegisterAll([]Action{low, sys, high})
	d.Seal()

	d.Dispatch(context.Background(), &message.Raw{})

	// sys runs first but does not handle; high handles; low never runs.
	assert.Equal(t, []string{"sys", "high"}, calls)
}

func TestDispatchStableTieOrder(t *testing.T) {
	var calls []string
	d := New()
	for _, name := range []string{"first", "second", "third"} {
		a := recording(&calls, name, false)
		a.Priority = PriorityNormal
		d.Register(a)
	}
	d.Seal()

	d.Dispatch(context.Background(), &message.Raw{})
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDispatchMatchPanicIsNonMatch(t *testing.T) {
	var calls []string
	d := New()

	d.Register(Action{
		Name: "panics",
		Match: func(raw *message.Raw) (interface{}, bool) {
			panic("boom")
		},
		Handler: func(ctx context.Context, raw *message.Raw) (bool, error) {
			t.Fatal("handler of panicking match must not run")
			return true, nil
		},
	})
	d.Register(recording(&calls, "next", true))
	d.Seal()

	d.Dispatch(context.Background(), &message.Raw{})
	assert.Equal(t, []string{"next"}, calls)
}

func TestDispatchFilterGatesMatch(t *testing.T) {
	var calls []string
	d := New()

	filtered := recording(&calls, "filtered", true)
	filtered.Filter = func(matched interface{}) bool { return false }
	d.Register(filtered)
	d.Register(recording(&calls, "fallthrough", true))
	d.Seal()

	d.Dispatch(context.Background(), &message.Raw{})
	assert.Equal(t, []string{"fallthrough"}, calls)
}

func TestDispatchHandlerErrorContinues(t *testing.T) {
	var calls []string
	d := New()

	d.Register(Action{
		Name:  "failing",
		Match: matchAll,
		Handler: func(ctx context.Context, raw *message.Raw) (bool, error) {
			return false, errors.New("handler broke")
		},
	})
	d.Register(recording(&calls, "after", true))
	d.Seal()

	d.Dispatch(context.Background(), &message.Raw{})
	assert.Equal(t, []string{"after"}, calls)
}

func TestDefaultPriorityIsNormal(t *testing.T) {
	d := New()
	d.Register(Action{Name: "x", Match: matchAll, Handler: func(ctx context.Context, raw *message.Raw) (bool, error) { return false, nil }})
	d.Seal()
	assert.Equal(t, PriorityNormal, d.Actions()[0].Priority)
}
