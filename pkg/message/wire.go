package message

import "encoding/json"

// Raw is one decoded line from signal-cli. Unsolicited notifications carry an
// envelope under params; correlated replies carry the id of the request they
// answer. Fields we do not consume stay in the raw bytes kept by the link.
type Raw struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params Params `json:"params"`
}

// Params wraps the envelope of an unsolicited notification.
type Params struct {
	Envelope *Envelope `json:"envelope"`
}

// Envelope is the wire shape of one inbound protocol event.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceUUID   string `json:"sourceUuid"`
	SourceName   string `json:"sourceName"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage    *DataBody    `json:"dataMessage"`
	SyncMessage    *SyncBody    `json:"syncMessage"`
	EditMessage    *EditBody    `json:"editMessage"`
	ReceiptMessage *ReceiptBody `json:"receiptMessage"`
	TypingMessage  *TypingBody  `json:"typingMessage"`
}

// DataBody is the payload of a regular incoming message. The same shape
// appears under syncMessage.sentMessage for messages sent from the account's
// other devices.
type DataBody struct {
	Timestamp    int64            `json:"timestamp"`
	Message      *string          `json:"message"`
	Attachments  []WireAttachment `json:"attachments"`
	GroupInfo    *WireGroupInfo   `json:"groupInfo"`
	Quote        *WireQuote       `json:"quote"`
	Reaction     *WireReaction    `json:"reaction"`
	RemoteDelete *WireDelete      `json:"remoteDelete"`
}

// SentBody extends DataBody with the sync-only destination and a possible
// nested edit wrapper.
type SentBody struct {
	DataBody
	Destination string    `json:"destination"`
	EditMessage *EditBody `json:"editMessage"`
}

// SyncBody wraps messages mirrored from the account's other devices.
type SyncBody struct {
	SentMessage *SentBody `json:"sentMessage"`
}

// EditBody replaces the body of an earlier message.
type EditBody struct {
	TargetSentTimestamp int64     `json:"targetSentTimestamp"`
	DataMessage         *DataBody `json:"dataMessage"`
}

// ReceiptBody acknowledges delivery/read/view of earlier messages.
type ReceiptBody struct {
	When       int64   `json:"when"`
	IsDelivery bool    `json:"isDelivery"`
	IsRead     bool    `json:"isRead"`
	IsViewed   bool    `json:"isViewed"`
	Timestamps []int64 `json:"timestamps"`
}

// TypingBody is a typing indicator.
type TypingBody struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	GroupID   string `json:"groupId"`
}

// WireGroupInfo identifies the group a message belongs to. Type is "UPDATE"
// on group membership/metadata changes and "DELIVER" on ordinary messages.
type WireGroupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	Type      string `json:"type"`
	Revision  int    `json:"revision"`
}

// WireQuote is the wire shape of a quoted message.
type WireQuote struct {
	ID           int64            `json:"id"`
	Author       string           `json:"author"`
	AuthorNumber string           `json:"authorNumber"`
	AuthorUUID   string           `json:"authorUuid"`
	Text         *string          `json:"text"`
	Attachments  []WireAttachment `json:"attachments"`
}

// WireAttachment is the wire shape of an attachment reference.
type WireAttachment struct {
	ContentType string  `json:"contentType"`
	ID          string  `json:"id"`
	Size        int64   `json:"size"`
	Filename    *string `json:"filename"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
	Caption     *string `json:"caption"`
}

// WireReaction is an emoji reaction to an earlier message.
type WireReaction struct {
	Emoji               string `json:"emoji"`
	TargetAuthor        string `json:"targetAuthor"`
	TargetSentTimestamp int64  `json:"targetSentTimestamp"`
	IsRemove            bool   `json:"isRemove"`
}

// WireDelete marks an earlier message as remotely deleted.
type WireDelete struct {
	Timestamp int64 `json:"timestamp"`
}

// DecodeRaw parses one protocol line. Malformed JSON yields (nil, false);
// malformed input is dropped, never an error.
func DecodeRaw(line []byte) (*Raw, bool) {
	var raw Raw
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false
	}
	return &raw, true
}
