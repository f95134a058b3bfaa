// Package message defines the typed message variants the dispatcher and
// plugins work with, and the normalizer that maps raw envelopes onto them.
package message

// Attachment is a file reference carried by a message. ID is an opaque handle
// into signal-cli's attachment store.
type Attachment struct {
	ContentType string
	ID          string
	Size        int64
	Filename    string
	Width       int
	Height      int
	Caption     string
}

// Quote is a message quoted inside another message.
type Quote struct {
	ID           int64
	Author       string
	AuthorNumber string
	AuthorUUID   string
	Text         string
	Attachments  []Attachment
}

// Meta carries the fields common to every message variant.
type Meta struct {
	Source      string
	Timestamp   int64
	GroupID     string
	Destination string
	IsSynced    bool
}

// ChatID names the conversation a message belongs to: the group if there is
// one, else the variant's destination, else the sender.
func (m Meta) ChatID() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.Destination != "" {
		return m.Destination
	}
	return m.Source
}

// Message is the tagged-variant interface over all normalized message kinds.
type Message interface {
	ChatID() string
	Common() Meta
}

func (m Meta) Common() Meta { return m }

// ChatMessage is an ordinary text/attachment message.
type ChatMessage struct {
	Meta
	Text        string
	Attachments []Attachment
	Quote       *Quote
}

// ReactionMessage is an emoji reaction to an earlier message.
type ReactionMessage struct {
	Meta
	Emoji               string
	TargetAuthor        string
	TargetSentTimestamp int64
	IsRemove            bool
}

// ReceiptMessage acknowledges delivery/read/view of earlier messages.
type ReceiptMessage struct {
	Meta
	Timestamps []int64
	IsDelivery bool
	IsRead     bool
	IsViewed   bool
}

// TypingMessage is a typing indicator.
type TypingMessage struct {
	Meta
	Action string
}

// EditMessage replaces the body of an earlier message.
type EditMessage struct {
	Meta
	TargetSentTimestamp int64
	Text                string
	Attachments         []Attachment
	Quote               *Quote
}

// DeleteMessage marks an earlier message as remotely deleted.
type DeleteMessage struct {
	Meta
	TargetSentTimestamp int64
}

// GroupUpdateMessage reports a group membership or metadata change.
type GroupUpdateMessage struct {
	Meta
	GroupName string
	Revision  int
}

func attachment(w WireAttachment) Attachment {
	a := Attachment{
		ContentType: w.ContentType,
		ID:          w.ID,
		Size:        w.Size,
	}
	if w.ContentType == "" {
		a.ContentType = "unknown"
	}
	if w.Filename != nil {
		a.Filename = *w.Filename
	}
	if w.Width != nil {
		a.Width = *w.Width
	}
	if w.Height != nil {
		a.Height = *w.Height
	}
	if w.Caption != nil {
		a.Caption = *w.Caption
	}
	return a
}

func attachments(ws []WireAttachment) []Attachment {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Attachment, len(ws))
	for i, w := range ws {
		out[i] = attachment(w)
	}
	return out
}

func quote(w *WireQuote) *Quote {
	if w == nil {
		return nil
	}
	q := &Quote{
		ID:           w.ID,
		Author:       w.Author,
		AuthorNumber: w.AuthorNumber,
		AuthorUUID:   w.AuthorUUID,
		Attachments:  attachments(w.Attachments),
	}
	if w.Text != nil {
		q.Text = *w.Text
	}
	return q
}

// FromRaw normalizes a decoded protocol line into exactly one message
// variant. Envelopes with no recognizable source or no applicable payload
// yield (nil, false) — a not-applicable result, never an error.
func FromRaw(raw *Raw) (Message, bool) {
	if raw == nil || raw.Params.Envelope == nil {
		return nil, false
	}
	return FromEnvelope(raw.Params.Envelope)
}

// FromEnvelope applies the variant precedence to one envelope. First
// applicable wins: reaction, group update, remote delete, edit, receipt,
// typing, chat message.
func FromEnvelope(env *Envelope) (Message, bool) {
	if env.Source == "" {
		return nil, false
	}

	var sent *SentBody
	if env.SyncMessage != nil {
		sent = env.SyncMessage.SentMessage
	}

	meta := func(synced bool) Meta {
		return Meta{Source: env.Source, Timestamp: env.Timestamp, IsSynced: synced}
	}

	// (a) Reaction nested in a data or sent message wins over everything,
	// including group info carried by the same body.
	if env.DataMessage != nil && env.DataMessage.Reaction != nil {
		return reaction(meta(false), env.DataMessage), true
	}
	if sent != nil && sent.Reaction != nil {
		return reaction(meta(true), &sent.DataBody), true
	}

	// (b) Group update marker.
	if env.DataMessage != nil && isUpdate(env.DataMessage.GroupInfo) {
		return groupUpdate(meta(false), env.DataMessage.GroupInfo), true
	}
	if sent != nil && isUpdate(sent.GroupInfo) {
		return groupUpdate(meta(true), sent.GroupInfo), true
	}

	// (c) Remote delete.
	if env.DataMessage != nil && env.DataMessage.RemoteDelete != nil {
		m := &DeleteMessage{Meta: meta(false), TargetSentTimestamp: env.DataMessage.RemoteDelete.Timestamp}
		m.GroupID = groupID(env.DataMessage.GroupInfo)
		return m, true
	}
	if sent != nil && sent.RemoteDelete != nil {
		m := &DeleteMessage{Meta: meta(true), TargetSentTimestamp: sent.RemoteDelete.Timestamp}
		m.GroupID = groupID(sent.GroupInfo)
		return m, true
	}

	// (d) Edit wrapper, direct or nested one level in the sent-by-me wrapper.
	if env.EditMessage != nil {
		return edit(meta(false), env.EditMessage)
	}
	if sent != nil && sent.EditMessage != nil {
		return edit(meta(true), sent.EditMessage)
	}

	// (e) Receipt. An empty timestamp list normalizes to nothing.
	if env.ReceiptMessage != nil {
		r := env.ReceiptMessage
		if len(r.Timestamps) == 0 {
			return nil, false
		}
		return &ReceiptMessage{
			Meta:       meta(false),
			Timestamps: r.Timestamps,
			IsDelivery: r.IsDelivery,
			IsRead:     r.IsRead,
			IsViewed:   r.IsViewed,
		}, true
	}

	// (f) Typing indicator. Requires a timestamp.
	if env.TypingMessage != nil {
		ty := env.TypingMessage
		if ty.Timestamp == 0 {
			return nil, false
		}
		m := &TypingMessage{Meta: meta(false), Action: ty.Action}
		m.GroupID = ty.GroupID
		return m, true
	}

	// (g) Plain chat message.
	if env.DataMessage != nil && env.DataMessage.Timestamp != 0 {
		return chat(meta(false), env.DataMessage, ""), true
	}
	if sent != nil && sent.Timestamp != 0 {
		return chat(meta(true), &sent.DataBody, sent.Destination), true
	}

	return nil, false
}

func isUpdate(gi *WireGroupInfo) bool {
	return gi != nil && gi.Type == "UPDATE"
}

func groupID(gi *WireGroupInfo) string {
	if gi == nil {
		return ""
	}
	return gi.GroupID
}

func reaction(meta Meta, body *DataBody) *ReactionMessage {
	m := &ReactionMessage{
		Meta:                meta,
		Emoji:               body.Reaction.Emoji,
		TargetAuthor:        body.Reaction.TargetAuthor,
		TargetSentTimestamp: body.Reaction.TargetSentTimestamp,
		IsRemove:            body.Reaction.IsRemove,
	}
	m.GroupID = groupID(body.GroupInfo)
	return m
}

func groupUpdate(meta Meta, gi *WireGroupInfo) *GroupUpdateMessage {
	m := &GroupUpdateMessage{Meta: meta, GroupName: gi.GroupName, Revision: gi.Revision}
	m.GroupID = gi.GroupID
	return m
}

func edit(meta Meta, body *EditBody) (Message, bool) {
	m := &EditMessage{Meta: meta, TargetSentTimestamp: body.TargetSentTimestamp}
	if inner := body.DataMessage; inner != nil {
		if inner.Message != nil {
			m.Text = *inner.Message
		}
		m.Attachments = attachments(inner.Attachments)
		m.Quote = quote(inner.Quote)
		m.GroupID = groupID(inner.GroupInfo)
	}
	return m, true
}

func chat(meta Meta, body *DataBody, destination string) *ChatMessage {
	m := &ChatMessage{Meta: meta}
	m.GroupID = groupID(body.GroupInfo)
	m.Destination = destination
	if m.Destination == "" {
		m.Destination = m.GroupID
	}
	if body.Message != nil {
		m.Text = *body.Message
	}
	m.Attachments = attachments(body.Attachments)
	m.Quote = quote(body.Quote)
	return m
}
