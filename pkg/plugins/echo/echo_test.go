package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pothead-chat/pothead/pkg/config"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/plugin"
)

func testPlugin(t *testing.T, superuser string) (*Plugin, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Account = "+12025550100"
	cfg.Superuser = superuser

	var buf bytes.Buffer
	env := plugin.Env{
		Cfg:     cfg,
		Link:    link.New(cfg.Account, "", &buf),
		Plugins: plugin.NewRegistry(),
	}
	return New(env), &buf
}

func chatLine(text string) *message.Raw {
	raw, ok := message.DecodeRaw([]byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":99,"dataMessage":{"timestamp":99,"message":%q}}}}`,
		text)))
	if !ok {
		panic("bad fixture")
	}
	return raw
}

func TestActionMatchesPlainChat(t *testing.T) {
	p, _ := testPlugin(t, "")
	action := p.Actions()[0]

	matched, ok := action.Match(chatLine("hello there"))
	require.True(t, ok)
	assert.True(t, action.Filter(matched))
}

func TestActionFiltersTriggerMessages(t *testing.T) {
	p, _ := testPlugin(t, "")
	action := p.Actions()[0]

	matched, ok := action.Match(chatLine("!pot#ping"))
	require.True(t, ok)
	assert.False(t, action.Filter(matched))

	matched, ok = action.Match(chatLine("  !PH hello"))
	require.True(t, ok)
	assert.False(t, action.Filter(matched))
}

func TestActionIgnoresNonChatPayloads(t *testing.T) {
	p, _ := testPlugin(t, "")
	action := p.Actions()[0]

	raw, ok := message.DecodeRaw([]byte(
		`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":99,"typingMessage":{"action":"STARTED","timestamp":99}}}}`))
	require.True(t, ok)

	_, matched := action.Match(raw)
	assert.False(t, matched)
}

func TestEchoHandlerSendsEchoWithReplyCallback(t *testing.T) {
	p, buf := testPlugin(t, "")

	handled, err := p.echoChat(context.Background(), chatLine("hello"))
	require.NoError(t, err)
	assert.True(t, handled)

	var req struct {
		ID     string                 `json:"id"`
		Params map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &req))
	assert.Equal(t, "🔊 hello", req.Params["message"])
	assert.Equal(t, []interface{}{"+1"}, req.Params["recipient"])
	// A confirmation callback was registered, so the id is a real one.
	assert.NotEqual(t, link.FireAndForgetID, req.ID)
	assert.Equal(t, 1, p.env.Link.PendingCount())
}

func TestCommands(t *testing.T) {
	p, _ := testPlugin(t, "")
	cmds := p.Commands()
	require.Len(t, cmds, 2)

	reply, _, err := cmds[0].Handler(context.Background(), "chat", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Pong!", reply)

	reply, _, err = cmds[1].Handler(context.Background(), "chat", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "🔊 hi", reply)

	reply, _, err = cmds[1].Handler(context.Background(), "chat", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "🔊 Nothing to echo.", reply)
}

func TestStartupNotifiesSuperuser(t *testing.T) {
	p, buf := testPlugin(t, "+boss")

	require.NoError(t, p.onStartup(context.Background()))

	var req struct {
		Params map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &req))
	assert.Equal(t, "🤖 pothead online.", req.Params["message"])
	assert.Equal(t, []interface{}{"+boss"}, req.Params["recipient"])
}

func TestStartupWithoutSuperuserStaysQuiet(t *testing.T) {
	p, buf := testPlugin(t, "")
	require.NoError(t, p.onStartup(context.Background()))
	assert.Empty(t, buf.String())
}
