package teelink

import (
	"context"
	"sync"
)

// Channel is the realtime surface the controllers need. *RealtimeClient
// satisfies it; tests substitute a fake.
type Channel interface {
	RegisterRoom(roomID int) bool
	NotifyMessage(roomID int, action RealtimeAction, messageID MessageID, content string) bool
	OnPrivateMessage(h func(PrivateMessage)) func()
	OnRoomUpdate(h func(RoomUpdate)) func()
	OnNewMessageNotice(h func(NewMessageNotice)) func()
	OnConnected(h func()) func()
}

// ConversationState describes where a conversation is in its load cycle.
type ConversationState int

const (
	ConversationIdle ConversationState = iota
	ConversationLoading
	ConversationReady
)

// Draft is the message being composed: text, an optional quoted message,
// and up to MaxAttachments files.
type Draft struct {
	Text        string
	QuoteText   string
	Attachments []Attachment
}

func (d Draft) clone() Draft {
	c := d
	c.Attachments = append([]Attachment(nil), d.Attachments...)
	return c
}

// Empty reports whether there is nothing to send.
func (d Draft) Empty() bool {
	return d.Text == "" && len(d.Attachments) == 0
}

// ============================================================================
// Conversation
// ============================================================================

// Conversation drives a single room's message timeline: paged history,
// realtime refresh, and the compose/send/edit/delete flows. Messages are
// held newest-first as the server serves them; Messages returns them
// oldest-first for display.
type Conversation struct {
	client  *MessagesClient
	channel Channel
	roomID  int

	mu       sync.Mutex
	state    ConversationState
	loading  bool
	noMore   bool
	page     int
	messages []Message
	draft    Draft
	unsubs   []func()

	changeMu sync.Mutex
	onChange []func()
}

// NewConversation creates a controller for one room. Call Open to register
// the room and start receiving realtime events.
func NewConversation(client *MessagesClient, channel Channel, roomID int) *Conversation {
	return &Conversation{
		client:  client,
		channel: channel,
		roomID:  roomID,
	}
}

// RoomID returns the room this conversation belongs to.
func (c *Conversation) RoomID() int { return c.roomID }

// State returns the current load-cycle state.
func (c *Conversation) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasMore reports whether an older page may still exist.
func (c *Conversation) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.noMore
}

// Messages returns the timeline oldest-first, as it should be displayed.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[len(out)-1-i] = m
	}
	return out
}

// OnChange registers a callback fired after any timeline or draft change.
// The returned function removes it.
func (c *Conversation) OnChange(fn func()) func() {
	c.changeMu.Lock()
	c.onChange = append(c.onChange, fn)
	idx := len(c.onChange) - 1
	c.changeMu.Unlock()
	return func() {
		c.changeMu.Lock()
		defer c.changeMu.Unlock()
		if idx < len(c.onChange) {
			c.onChange[idx] = nil
		}
	}
}

func (c *Conversation) notifyChange() {
	c.changeMu.Lock()
	handlers := append([]func(){}, c.onChange...)
	c.changeMu.Unlock()
	for _, fn := range handlers {
		if fn != nil {
			fn()
		}
	}
}

// Open registers the room on the channel and subscribes to its events.
// A create from the counterpart reloads page one; update and delete are
// patched in place without a round trip. Group membership does not survive
// a socket reconnect, so the room is re-registered whenever the channel
// comes back.
func (c *Conversation) Open(ctx context.Context) {
	if c.channel != nil {
		c.channel.RegisterRoom(c.roomID)
		unsub := c.channel.OnPrivateMessage(func(p PrivateMessage) {
			c.handleRemote(ctx, p)
		})
		resub := c.channel.OnConnected(func() {
			c.channel.RegisterRoom(c.roomID)
		})
		c.mu.Lock()
		c.unsubs = append(c.unsubs, unsub, resub)
		c.mu.Unlock()
	}
	c.LoadInitial(ctx)
}

// Close detaches the conversation's channel subscriptions. The room group
// membership on the server is left alone; it expires with the socket.
func (c *Conversation) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (c *Conversation) handleRemote(ctx context.Context, p PrivateMessage) {
	switch p.Action {
	case ActionCreate:
		// Only the id travels on the wire; fetch the page for the full row.
		c.LoadInitial(ctx)
	case ActionUpdate:
		c.ApplyUpdate(p.MessageID, p.Message)
	case ActionDelete:
		c.ApplyDelete(p.MessageID)
	}
}

// LoadInitial fetches page one and replaces the timeline. A load already
// in flight makes this a no-op.
func (c *Conversation) LoadInitial(ctx context.Context) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return
	}
	c.loading = true
	c.state = ConversationLoading
	c.mu.Unlock()

	msgs := c.client.FetchMessages(ctx, c.roomID, 1)

	c.mu.Lock()
	c.messages = msgs
	c.page = 1
	c.noMore = len(msgs) == 0
	c.loading = false
	c.state = ConversationReady
	c.mu.Unlock()
	c.notifyChange()
}

// LoadMore fetches the next older page and appends it. An empty page marks
// the history exhausted; further calls are no-ops until LoadInitial resets.
func (c *Conversation) LoadMore(ctx context.Context) {
	c.mu.Lock()
	if c.loading || c.noMore {
		c.mu.Unlock()
		return
	}
	c.loading = true
	next := c.page + 1
	c.mu.Unlock()

	msgs := c.client.FetchMessages(ctx, c.roomID, next)

	c.mu.Lock()
	if len(msgs) == 0 {
		c.noMore = true
	} else {
		c.messages = append(c.messages, msgs...)
		c.page = next
	}
	c.loading = false
	c.mu.Unlock()
	c.notifyChange()
}

// ApplyUpdate rewrites the body of the message with the given id. Unknown
// ids are ignored.
func (c *Conversation) ApplyUpdate(id MessageID, body string) {
	c.mu.Lock()
	changed := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Body = body
			changed = true
			break
		}
	}
	c.mu.Unlock()
	if changed {
		c.notifyChange()
	}
}

// ApplyDelete removes the message with the given id, preserving the order
// of the rest. Unknown ids are ignored.
func (c *Conversation) ApplyDelete(id MessageID) {
	c.mu.Lock()
	changed := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			changed = true
			break
		}
	}
	c.mu.Unlock()
	if changed {
		c.notifyChange()
	}
}

// ============================================================================
// Draft Management
// ============================================================================

// Draft returns a copy of the current draft.
func (c *Conversation) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.clone()
}

// SetDraftText replaces the draft body.
func (c *Conversation) SetDraftText(text string) {
	c.mu.Lock()
	c.draft.Text = text
	c.mu.Unlock()
	c.notifyChange()
}

// QuoteMessage attaches a message's body to the draft as quoted context.
func (c *Conversation) QuoteMessage(m Message) {
	c.mu.Lock()
	c.draft.QuoteText = m.Body
	c.mu.Unlock()
	c.notifyChange()
}

// ClearQuote drops the quoted context.
func (c *Conversation) ClearQuote() {
	c.mu.Lock()
	c.draft.QuoteText = ""
	c.mu.Unlock()
	c.notifyChange()
}

// AttachFile adds a file to the draft. Returns false once the attachment
// limit is reached.
func (c *Conversation) AttachFile(a Attachment) bool {
	c.mu.Lock()
	if len(c.draft.Attachments) >= MaxAttachments {
		c.mu.Unlock()
		return false
	}
	c.draft.Attachments = append(c.draft.Attachments, a)
	c.mu.Unlock()
	c.notifyChange()
	return true
}

// RemoveAttachment drops the attachment at the given index.
func (c *Conversation) RemoveAttachment(i int) {
	c.mu.Lock()
	if i < 0 || i >= len(c.draft.Attachments) {
		c.mu.Unlock()
		return
	}
	c.draft.Attachments = append(c.draft.Attachments[:i], c.draft.Attachments[i+1:]...)
	c.mu.Unlock()
	c.notifyChange()
}

// ============================================================================
// Send / Edit / Delete
// ============================================================================

// Send posts the current draft. The draft clears optimistically before the
// transport call; on failure it is restored exactly as it was and
// ErrSendFailed returned. On success the counterpart is notified and page
// one reloaded so the timeline includes the new row.
func (c *Conversation) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.draft.Empty() {
		c.mu.Unlock()
		return nil
	}
	snapshot := c.draft.clone()
	c.draft = Draft{}
	c.mu.Unlock()
	c.notifyChange()

	sent := c.client.Send(ctx, c.roomID, snapshot.Text, snapshot.QuoteText, snapshot.Attachments)
	if sent == nil {
		c.mu.Lock()
		c.draft = snapshot
		c.mu.Unlock()
		c.notifyChange()
		return ErrSendFailed
	}

	if c.channel != nil {
		c.channel.NotifyMessage(c.roomID, ActionCreate, sent.ID, sent.Body)
	}
	c.LoadInitial(ctx)
	return nil
}

// Edit rewrites a message's body. Nothing changes locally or on the channel
// unless the transport call succeeds.
func (c *Conversation) Edit(ctx context.Context, id MessageID, newText string) error {
	updated := c.client.Edit(ctx, c.roomID, id, newText)
	if updated == nil {
		return ErrEditFailed
	}
	c.ApplyUpdate(id, newText)
	if c.channel != nil {
		c.channel.NotifyMessage(c.roomID, ActionUpdate, id, newText)
	}
	return nil
}

// Delete removes a message. Any confirmation prompt is the caller's job;
// this method deletes unconditionally. Returns whether the server accepted.
func (c *Conversation) Delete(ctx context.Context, id MessageID) bool {
	if !c.client.Delete(ctx, c.roomID, id) {
		return false
	}
	c.ApplyDelete(id)
	if c.channel != nil {
		c.channel.NotifyMessage(c.roomID, ActionDelete, id, "")
	}
	return true
}

// ============================================================================
// RoomList
// ============================================================================

// RoomList drives the paged room overview and its unread indicator.
type RoomList struct {
	client  *MessagesClient
	channel Channel
	userID  int

	mu      sync.Mutex
	rooms   []Room
	page    int
	loading bool
	noMore  bool
	unread  bool
	unsubs  []func()

	changeMu sync.Mutex
	onChange []func()
}

// NewRoomList creates a room list controller for the given member.
func NewRoomList(client *MessagesClient, channel Channel, userID int) *RoomList {
	return &RoomList{
		client:  client,
		channel: channel,
		userID:  userID,
	}
}

// Rooms returns a copy of the loaded rooms in server order.
func (rl *RoomList) Rooms() []Room {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return append([]Room(nil), rl.rooms...)
}

// HasUnread reports whether an unread indicator should be shown.
func (rl *RoomList) HasUnread() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.unread
}

// ClearUnread drops the unread indicator, typically when the list screen
// regains focus.
func (rl *RoomList) ClearUnread() {
	rl.mu.Lock()
	rl.unread = false
	rl.mu.Unlock()
	rl.notifyChange()
}

// HasMore reports whether another page may exist.
func (rl *RoomList) HasMore() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return !rl.noMore
}

// OnChange registers a callback fired after any list or unread change.
func (rl *RoomList) OnChange(fn func()) func() {
	rl.changeMu.Lock()
	rl.onChange = append(rl.onChange, fn)
	idx := len(rl.onChange) - 1
	rl.changeMu.Unlock()
	return func() {
		rl.changeMu.Lock()
		defer rl.changeMu.Unlock()
		if idx < len(rl.onChange) {
			rl.onChange[idx] = nil
		}
	}
}

func (rl *RoomList) notifyChange() {
	rl.changeMu.Lock()
	handlers := append([]func(){}, rl.onChange...)
	rl.changeMu.Unlock()
	for _, fn := range handlers {
		if fn != nil {
			fn()
		}
	}
}

// Open subscribes to room and message events and loads the first page.
// A room_update reloads the list; a new-message notice or chat event for
// some room raises the unread indicator.
func (rl *RoomList) Open(ctx context.Context) {
	if rl.channel != nil {
		u1 := rl.channel.OnRoomUpdate(func(RoomUpdate) {
			rl.Reload(ctx)
		})
		u2 := rl.channel.OnNewMessageNotice(func(n NewMessageNotice) {
			if n.HasMessage {
				rl.mu.Lock()
				rl.unread = true
				rl.mu.Unlock()
				rl.notifyChange()
			}
		})
		u3 := rl.channel.OnPrivateMessage(func(p PrivateMessage) {
			if p.Action == ActionCreate {
				rl.mu.Lock()
				rl.unread = true
				rl.mu.Unlock()
				rl.notifyChange()
			}
		})
		rl.mu.Lock()
		rl.unsubs = append(rl.unsubs, u1, u2, u3)
		rl.mu.Unlock()
	}
	rl.Reload(ctx)
}

// Close detaches the list's channel subscriptions.
func (rl *RoomList) Close() {
	rl.mu.Lock()
	unsubs := rl.unsubs
	rl.unsubs = nil
	rl.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Reload fetches page one and replaces the list.
func (rl *RoomList) Reload(ctx context.Context) {
	rl.mu.Lock()
	if rl.loading {
		rl.mu.Unlock()
		return
	}
	rl.loading = true
	rl.mu.Unlock()

	rooms := rl.client.FetchRooms(ctx, 1)

	rl.mu.Lock()
	rl.rooms = rooms
	rl.page = 1
	rl.noMore = len(rooms) == 0
	rl.loading = false
	rl.mu.Unlock()
	rl.notifyChange()
}

// LoadMore fetches the next page and appends it. An empty page marks the
// list exhausted until the next Reload.
func (rl *RoomList) LoadMore(ctx context.Context) {
	rl.mu.Lock()
	if rl.loading || rl.noMore {
		rl.mu.Unlock()
		return
	}
	rl.loading = true
	next := rl.page + 1
	rl.mu.Unlock()

	rooms := rl.client.FetchRooms(ctx, next)

	rl.mu.Lock()
	if len(rooms) == 0 {
		rl.noMore = true
	} else {
		rl.rooms = append(rl.rooms, rooms...)
		rl.page = next
	}
	rl.loading = false
	rl.mu.Unlock()
	rl.notifyChange()
}
