// Package link owns the JSON-RPC connection to the signal-cli process: it
// frames outbound requests, correlates replies to pending callbacks, and
// routes everything else to the dispatcher.
package link

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/message"
	"github.com/pothead-chat/pothead/pkg/styles"
)

// FireAndForgetID is the fixed correlation id used when the caller does not
// want the reply routed back. It is deliberately not unique; replies carrying
// it fall through to the dispatcher.
const FireAndForgetID = "reply-id"

// ReplyCallback receives the full payload of a correlated reply.
type ReplyCallback func(ctx context.Context, payload []byte)

// Outbound describes one message to send. Exactly one of Recipient or
// GroupID should be set; GroupID wins when both are.
type Outbound struct {
	Text      string
	Recipient string
	GroupID   string
}

type request struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
	ID      string                 `json:"id"`
}

// Link frames requests onto the process stdin and correlates replies read
// from its stdout.
type Link struct {
	account string
	prefix  string

	w   *bufio.Writer
	wmu sync.Mutex

	pending map[string]ReplyCallback
	pmu     sync.Mutex
}

// New creates a link writing requests to w. prefix is prepended to every
// outbound message text before style processing.
func New(account, prefix string, w io.Writer) *Link {
	return &Link{
		account: account,
		prefix:  prefix,
		w:       bufio.NewWriter(w),
		pending: make(map[string]ReplyCallback),
	}
}

// Send frames and writes one send request. Message text runs through the
// style transformer; the resulting spans ride along as textStyle (exactly
// one) or textStyles (several). When cb is non-nil a fresh correlation id is
// generated and registered before the write; otherwise the fire-and-forget
// sentinel is used. Write failures are logged and the message is dropped.
func (l *Link) Send(ctx context.Context, out Outbound, attachments []string, cb ReplyCallback) {
	plain, spans := styles.Transform(l.prefix + out.Text)

	params := map[string]interface{}{
		"account": l.account,
		"message": plain,
	}
	switch len(spans) {
	case 0:
	case 1:
		params["textStyle"] = spans[0]
	default:
		params["textStyles"] = spans
	}

	if out.GroupID != "" {
		params["groupId"] = out.GroupID
	} else {
		params["recipient"] = []string{out.Recipient}
	}
	if len(attachments) > 0 {
		params["attachment"] = attachments
	}

	l.write(request{JSONRPC: "2.0", Method: "send", Params: params, ID: l.correlate(cb)})
}

// RequestGroupInfo asks signal-cli for group details; the reply is delivered
// to cb.
func (l *Link) RequestGroupInfo(ctx context.Context, groupID string, cb ReplyCallback) {
	l.write(request{
		JSONRPC: "2.0",
		Method:  "listGroups",
		Params:  map[string]interface{}{"groupId": groupID},
		ID:      l.correlate(cb),
	})
}

func (l *Link) correlate(cb ReplyCallback) string {
	if cb == nil {
		return FireAndForgetID
	}
	id := uuid.NewString()
	l.pmu.Lock()
	l.pending[id] = cb
	l.pmu.Unlock()
	return id
}

func (l *Link) write(req request) {
	data, err := json.Marshal(req)
	if err != nil {
		logger.ErrorCF("link", "Failed to encode request", map[string]interface{}{"error": err.Error()})
		return
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		logger.ErrorCF("link", "Failed to send message", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := l.w.Flush(); err != nil {
		logger.ErrorCF("link", "Failed to flush message", map[string]interface{}{"error": err.Error()})
	}
}

// takePending removes and returns the callback for id, if any. Removal and
// lookup are one atomic step so a duplicate reply can never re-invoke it.
func (l *Link) takePending(id string) (ReplyCallback, bool) {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	cb, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	}
	return cb, ok
}

// PendingCount returns the number of outstanding reply callbacks.
func (l *Link) PendingCount() int {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	return len(l.pending)
}

// HandleLine routes one inbound line: a correlated reply resolves its pending
// callback exactly once and goes no further; everything else — including a
// reply whose id is unknown or already resolved — is handed to fallback.
// Malformed JSON is silently discarded.
func (l *Link) HandleLine(ctx context.Context, line []byte, fallback func(ctx context.Context, raw *message.Raw)) {
	raw, ok := message.DecodeRaw(line)
	if !ok {
		return
	}

	if raw.ID != "" {
		if cb, found := l.takePending(raw.ID); found {
			cb(ctx, line)
			return
		}
	}

	fallback(ctx, raw)
}
