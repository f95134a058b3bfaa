package welcome

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pothead-chat/pothead/pkg/config"
	"github.com/pothead-chat/pothead/pkg/link"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/plugin"
)

type safeBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testPlugin(t *testing.T) (*Plugin, *safeBuf) {
	t.Helper()
	cfg := config.Default()
	cfg.Account = "+12025550100"
	cfg.FileStorePath = t.TempDir()

	var buf safeBuf
	env := plugin.Env{
		Cfg:  cfg,
		Link: link.New(cfg.Account, "", &buf),
	}
	return New(env), &buf
}

func groupInfoPayload(groupID string, numbers ...string) []byte {
	members := make([]map[string]string, len(numbers))
	for i, n := range numbers {
		members[i] = map[string]string{"number": n, "uuid": "uuid-" + n}
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"result":  []map[string]interface{}{{"id": groupID, "members": members}},
		"id":      "x",
	})
	return payload
}

func sentLines(buf *safeBuf) []map[string]interface{} {
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var req map[string]interface{}
		if err := json.Unmarshal([]byte(line), &req); err == nil {
			out = append(out, req)
		}
	}
	return out
}

func TestParseGroupInfo(t *testing.T) {
	groupID, members, err := parseGroupInfo(groupInfoPayload("group123", "+111", "+222"))
	require.NoError(t, err)
	assert.Equal(t, "group123", groupID)
	assert.Equal(t, []Member{
		{Number: "+111", UUID: "uuid-+111"},
		{Number: "+222", UUID: "uuid-+222"},
	}, members)
}

func TestParseGroupInfoEmptyResult(t *testing.T) {
	_, _, err := parseGroupInfo([]byte(`{"jsonrpc":"2.0","result":[],"id":"x"}`))
	assert.Error(t, err)
}

func TestActionMatchesGroupUpdateOnly(t *testing.T) {
	p, _ := testPlugin(t)
	action := p.Actions()[0]

	update, ok := message.DecodeRaw([]byte(
		`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":9,"syncMessage":{"sentMessage":{"timestamp":9,"groupInfo":{"groupId":"group123","type":"UPDATE"}}}}}}`))
	require.True(t, ok)
	_, matched := action.Match(update)
	assert.True(t, matched)

	deliver, ok := message.DecodeRaw([]byte(
		`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":9,"dataMessage":{"timestamp":9,"message":"hi","groupInfo":{"groupId":"group123","type":"DELIVER"}}}}}`))
	require.True(t, ok)
	_, matched = action.Match(deliver)
	assert.False(t, matched)
}

func TestGroupUpdateRequestsGroupInfo(t *testing.T) {
	p, buf := testPlugin(t)
	action := p.Actions()[0]

	update, _ := message.DecodeRaw([]byte(
		`{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+1","timestamp":9,"syncMessage":{"sentMessage":{"timestamp":9,"groupInfo":{"groupId":"group123","type":"UPDATE"}}}}}}`))

	handled, err := action.Handler(context.Background(), update)
	require.NoError(t, err)
	assert.True(t, handled)

	reqs := sentLines(buf)
	require.Len(t, reqs, 1)
	assert.Equal(t, "listGroups", reqs[0]["method"])
	params := reqs[0]["params"].(map[string]interface{})
	assert.Equal(t, "group123", params["groupId"])
}

func TestNewMemberGetsWelcomed(t *testing.T) {
	p, buf := testPlugin(t)
	ctx := context.Background()

	require.NoError(t, p.saveMembers("group123", []Member{{Number: "+111", UUID: "uuid1"}}))
	require.NoError(t, writeWelcome(p, "group123", "Welcome aboard!"))

	p.onGroupInfo(ctx, groupInfoPayload("group123", "+111", "+222"))

	reqs := sentLines(buf)
	require.Len(t, reqs, 1)
	assert.Equal(t, "send", reqs[0]["method"])
	params := reqs[0]["params"].(map[string]interface{})
	assert.Equal(t, "Welcome aboard!", params["message"])
	assert.Equal(t, "group123", params["groupId"])

	// The roster now contains both members, so a repeat fetch stays quiet.
	p.onGroupInfo(ctx, groupInfoPayload("group123", "+111", "+222"))
	assert.Len(t, sentLines(buf), 1)
}

func TestNoWelcomeTextNoMessage(t *testing.T) {
	p, buf := testPlugin(t)

	p.onGroupInfo(context.Background(), groupInfoPayload("group123", "+111"))
	assert.Empty(t, sentLines(buf))

	// The roster was still saved.
	fresh := p.newMembers("group123", []Member{{Number: "+111", UUID: "uuid1"}})
	assert.Empty(t, fresh)
}

func TestInitGroupSnapshotsRosterAndStoresMessage(t *testing.T) {
	p, buf := testPlugin(t)
	ctx := context.Background()

	resCh := make(chan string, 1)
	go func() {
		reply, _, err := p.initGroup(ctx, "group123", nil, "Hello newcomer!")
		require.NoError(t, err)
		resCh <- reply
	}()

	var id string
	require.Eventually(t, func() bool {
		reqs := sentLines(buf)
		if len(reqs) == 0 {
			return false
		}
		id, _ = reqs[0]["id"].(string)
		return id != ""
	}, time.Second, 10*time.Millisecond)

	reply := groupInfoPayload("group123", "+111", "+222")
	var tagged map[string]interface{}
	require.NoError(t, json.Unmarshal(reply, &tagged))
	tagged["id"] = id
	line, _ := json.Marshal(tagged)
	p.env.Link.HandleLine(ctx, line, func(ctx context.Context, raw *message.Raw) {
		t.Error("reply should have resolved the pending callback")
	})

	assert.Equal(t, "✅ Initialized group with 2 members.", <-resCh)

	// Existing members are not "new" afterwards.
	fresh := p.newMembers("group123", []Member{{Number: "+222", UUID: "u"}, {Number: "+333", UUID: "u"}})
	require.Len(t, fresh, 1)
	assert.Equal(t, "+333", fresh[0].Number)
}

func writeWelcome(p *Plugin, groupID, text string) error {
	dir := p.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, messageFile), []byte(text), 0o644)
}
