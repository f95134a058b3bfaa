package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pothead-chat/pothead/pkg/message"
)

type sentRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
	ID      string                 `json:"id"`
}

func decodeSent(t *testing.T, buf *bytes.Buffer) sentRequest {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var req sentRequest
	require.NoError(t, json.Unmarshal([]byte(line), &req))
	return req
}

func TestSendPlainDirectMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.Send(context.Background(), Outbound{Text: "hello", Recipient: "+12025550199"}, nil, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "send", req.Method)
	assert.Equal(t, FireAndForgetID, req.ID)
	assert.Equal(t, "+12025550100", req.Params["account"])
	assert.Equal(t, "hello", req.Params["message"])
	assert.Equal(t, []interface{}{"+12025550199"}, req.Params["recipient"])
	assert.NotContains(t, req.Params, "groupId")
	assert.NotContains(t, req.Params, "textStyle")
	assert.NotContains(t, req.Params, "textStyles")
}

func TestSendSingleSpanUsesTextStyle(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.Send(context.Background(), Outbound{Text: "Hello **World**", Recipient: "+1"}, nil, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, "Hello World", req.Params["message"])
	assert.Equal(t, "6:5:BOLD", req.Params["textStyle"])
	assert.NotContains(t, req.Params, "textStyles")
}

func TestSendMultipleSpansUseTextStyles(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.Send(context.Background(), Outbound{Text: "`code` and *slant*", Recipient: "+1"}, nil, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, "code and slant", req.Params["message"])
	assert.NotContains(t, req.Params, "textStyle")
	assert.ElementsMatch(t,
		[]interface{}{"0:4:MONOSPACE", "9:5:ITALIC"},
		req.Params["textStyles"])
}

func TestSendPrefixAppliedBeforeStyles(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "🤖 ", &buf)

	l.Send(context.Background(), Outbound{Text: "**hi**", Recipient: "+1"}, nil, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, "🤖 hi", req.Params["message"])
	// The robot emoji is two UTF-16 code units, plus the space.
	assert.Equal(t, "3:2:BOLD", req.Params["textStyle"])
}

func TestSendGroupTargetWinsOverRecipient(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.Send(context.Background(), Outbound{Text: "hi", Recipient: "+1", GroupID: "grp=="}, nil, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, "grp==", req.Params["groupId"])
	assert.NotContains(t, req.Params, "recipient")
}

func TestSendAttachments(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.Send(context.Background(), Outbound{Text: "pic", Recipient: "+1"}, []string{"/tmp/a.png"}, nil)

	req := decodeSent(t, &buf)
	assert.Equal(t, []interface{}{"/tmp/a.png"}, req.Params["attachment"])
}

func TestReplyResolvedExactlyOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)
	ctx := context.Background()

	var got []byte
	l.Send(ctx, Outbound{Text: "ping", Recipient: "+1"}, nil, func(ctx context.Context, payload []byte) {
		got = payload
	})
	require.Equal(t, 1, l.PendingCount())

	req := decodeSent(t, &buf)
	require.NotEqual(t, FireAndForgetID, req.ID)

	fallbacks := 0
	fallback := func(ctx context.Context, raw *message.Raw) { fallbacks++ }

	reply := []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":{"timestamp":1},"id":%q}`, req.ID))
	l.HandleLine(ctx, reply, fallback)
	assert.Equal(t, reply, got)
	assert.Equal(t, 0, fallbacks)
	assert.Equal(t, 0, l.PendingCount())

	// A duplicate reply finds no pending callback and falls through.
	got = nil
	l.HandleLine(ctx, reply, fallback)
	assert.Nil(t, got)
	assert.Equal(t, 1, fallbacks)
}

func TestUnknownIDFallsThrough(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	fallbacks := 0
	l.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","result":{},"id":"never-issued"}`),
		func(ctx context.Context, raw *message.Raw) { fallbacks++ })
	assert.Equal(t, 1, fallbacks)
}

func TestNotificationGoesToFallback(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	var seen *message.Raw
	l.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":5}}}`),
		func(ctx context.Context, raw *message.Raw) { seen = raw })
	require.NotNil(t, seen)
	assert.Equal(t, "receive", seen.Method)
	require.NotNil(t, seen.Params.Envelope)
	assert.Equal(t, "+1", seen.Params.Envelope.Source)
}

func TestMalformedLineDiscarded(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	fallbacks := 0
	l.HandleLine(context.Background(), []byte("not json at all"),
		func(ctx context.Context, raw *message.Raw) { fallbacks++ })
	assert.Equal(t, 0, fallbacks)
}

func TestRequestGroupInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New("+12025550100", "", &buf)

	l.RequestGroupInfo(context.Background(), "grp==", func(ctx context.Context, payload []byte) {})

	req := decodeSent(t, &buf)
	assert.Equal(t, "listGroups", req.Method)
	assert.Equal(t, "grp==", req.Params["groupId"])
	assert.NotEqual(t, FireAndForgetID, req.ID)
	assert.Equal(t, 1, l.PendingCount())
}
