package teelink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// RealtimeAction is the mutation kind carried by a "private message" event.
// The event is a notification to other participants; the mutation itself
// already happened over HTTP.
type RealtimeAction string

const (
	ActionCreate RealtimeAction = "create"
	ActionUpdate RealtimeAction = "update"
	ActionDelete RealtimeAction = "delete"
)

// PrivateMessage is the room-scoped chat event. Outbound it carries source
// and target group names; inbound only the mutation fields are present.
type PrivateMessage struct {
	SourceName string         `json:"sourceName,omitempty"`
	TargetName string         `json:"targetName,omitempty"`
	MessageID  MessageID      `json:"messageId,omitempty"`
	Message    string         `json:"message,omitempty"`
	Action     RealtimeAction `json:"action"`
}

// RoomUpdate signals that some room's summary (e.g. unread count) changed.
type RoomUpdate struct {
	RoomID FlexInt `json:"roomId"`
}

// NewMessageNotice is the per-member unread flag broadcast. It is only
// dispatched to handlers when the member id matches the configured user.
type NewMessageNotice struct {
	MemberID   FlexInt `json:"memberId"`
	HasMessage bool    `json:"hasMessage"`
}

type registerPayload struct {
	SourceName string `json:"sourceName"`
	SocketID   string `json:"socketId,omitempty"`
}

// realtimeEnvelope is the wire format for all realtime events.
type realtimeEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Group name prefixes. The mobile member and the club-side admin join the
// same room under different names.
const (
	sourcePrefix = "member"
	targetPrefix = "admin"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	// URL is the websocket endpoint. Leaving it empty disables the channel;
	// Connect returns an error and emits report false.
	URL string

	// UserID scopes notify_new_message dispatch and the automatic member
	// registration performed on connect.
	UserID int

	// ReconnectAttempts caps automatic reconnects after an unexpected drop.
	// Beyond the cap the channel stays down until the next explicit Connect.
	ReconnectAttempts int

	// ReconnectDelay is the fixed pause between attempts.
	ReconnectDelay time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 1 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(event string, data json.RawMessage)

type handlerRef struct {
	id int
	fn interface{}
}

type eventDispatcher struct {
	mu             sync.RWMutex
	nextID         int
	generic        map[string][]handlerRef
	onPrivate      []handlerRef
	onRoomUpdate   []handlerRef
	onNotify       []handlerRef
	onConnected    []handlerRef
	onDisconnected []handlerRef
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]handlerRef),
	}
}

func (d *eventDispatcher) add(list *[]handlerRef, fn interface{}) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	*list = append(*list, handlerRef{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, ref := range *list {
			if ref.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// call runs a handler, swallowing panics so one bad listener cannot take
// down the read loop.
func call(fn func()) {
	defer func() { recover() }()
	fn()
}

func (d *eventDispatcher) dispatch(env realtimeEnvelope, userID int) {
	d.mu.RLock()
	private := append([]handlerRef{}, d.onPrivate...)
	roomUpdate := append([]handlerRef{}, d.onRoomUpdate...)
	notify := append([]handlerRef{}, d.onNotify...)
	generic := append([]handlerRef{}, d.generic[env.Event]...)
	d.mu.RUnlock()

	switch env.Event {
	case "private message":
		var p PrivateMessage
		if json.Unmarshal(env.Data, &p) == nil {
			for _, ref := range private {
				h := ref.fn.(func(PrivateMessage))
				call(func() { h(p) })
			}
		}
	case "room_update":
		var p RoomUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			for _, ref := range roomUpdate {
				h := ref.fn.(func(RoomUpdate))
				call(func() { h(p) })
			}
		}
	case "notify_new_message":
		var p NewMessageNotice
		if json.Unmarshal(env.Data, &p) == nil {
			if userID == 0 || int(p.MemberID) == userID {
				for _, ref := range notify {
					h := ref.fn.(func(NewMessageNotice))
					call(func() { h(p) })
				}
			}
		}
	}

	for _, ref := range generic {
		h := ref.fn.(RealtimeEventHandler)
		call(func() { h(env.Event, env.Data) })
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]handlerRef{}, d.onConnected...)
	d.mu.RUnlock()
	for _, ref := range handlers {
		h := ref.fn.(func())
		call(h)
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]handlerRef{}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, ref := range handlers {
		h := ref.fn.(func(string))
		call(func() { h(reason) })
	}
}

func (d *eventDispatcher) removeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generic = make(map[string][]handlerRef)
	d.onPrivate = nil
	d.onRoomUpdate = nil
	d.onNotify = nil
	d.onConnected = nil
	d.onDisconnected = nil
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	delay       time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		delay:       config.ReconnectDelay,
		maxAttempts: config.ReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	return r.delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the bidirectional channel used to announce presence in a
// room, notify other participants of message mutations, and receive the same
// notifications plus unread-count events. It is session-scoped: construct it
// after authentication succeeds and Disconnect on logout.
type RealtimeClient struct {
	config   *RealtimeConfig
	clientID string

	mu               sync.Mutex
	conn             *websocket.Conn
	connected        bool
	connecting       bool
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector
}

// NewRealtimeClient creates a realtime client. Call Connect to establish
// the connection.
func NewRealtimeClient(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		config:     &cfg,
		clientID:   uuid.NewString(),
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
	}
}

// OnPrivateMessage registers a handler for room chat events. The returned
// function removes the handler.
func (rt *RealtimeClient) OnPrivateMessage(h func(PrivateMessage)) func() {
	return rt.dispatcher.add(&rt.dispatcher.onPrivate, h)
}

// OnRoomUpdate registers a handler for room summary changes.
func (rt *RealtimeClient) OnRoomUpdate(h func(RoomUpdate)) func() {
	return rt.dispatcher.add(&rt.dispatcher.onRoomUpdate, h)
}

// OnNewMessageNotice registers a handler for the unread flag broadcast.
func (rt *RealtimeClient) OnNewMessageNotice(h func(NewMessageNotice)) func() {
	return rt.dispatcher.add(&rt.dispatcher.onNotify, h)
}

// OnConnected registers a handler for the connected meta-event. Handlers
// should re-register any rooms they care about: group membership does not
// survive a reconnect.
func (rt *RealtimeClient) OnConnected(h func()) func() {
	return rt.dispatcher.add(&rt.dispatcher.onConnected, h)
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) func() {
	return rt.dispatcher.add(&rt.dispatcher.onDisconnected, h)
}

// On registers a generic handler for a raw event name.
func (rt *RealtimeClient) On(event string, h RealtimeEventHandler) func() {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.nextID++
	id := rt.dispatcher.nextID
	rt.dispatcher.generic[event] = append(rt.dispatcher.generic[event], handlerRef{id: id, fn: h})
	rt.dispatcher.mu.Unlock()

	return func() {
		rt.dispatcher.mu.Lock()
		defer rt.dispatcher.mu.Unlock()
		refs := rt.dispatcher.generic[event]
		for i, ref := range refs {
			if ref.id == id {
				rt.dispatcher.generic[event] = append(refs[:i], refs[i+1:]...)
				return
			}
		}
	}
}

// Connected reports whether the channel is up right now.
func (rt *RealtimeClient) Connected() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.connected
}

// Connect establishes the websocket connection and starts the read loop.
// It resets the reconnect budget, so an explicit call revives a channel
// that exhausted its automatic attempts. While a connection is up or a
// dial-retry cycle is running, Connect is a no-op: the channel is a
// session-scoped singleton and never holds two sockets.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	if rt.config.URL == "" {
		return fmt.Errorf("no realtime endpoint configured")
	}

	rt.mu.Lock()
	if rt.connected || rt.connecting {
		rt.mu.Unlock()
		return nil
	}
	rt.connecting = true
	rt.intentionalClose = false
	rt.recon.reset()
	rt.mu.Unlock()

	err := rt.dial(ctx)
	if err != nil {
		rt.mu.Lock()
		rt.connecting = false
		rt.mu.Unlock()
	}
	return err
}

// dial opens a socket and installs it. The connecting flag is owned by the
// caller: Connect clears it on failure, the reconnect loop keeps it set
// across failed attempts.
func (rt *RealtimeClient) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, rt.config.URL, &websocket.DialOptions{
		HTTPClient: rt.config.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rt.mu.Lock()
	if rt.intentionalClose {
		rt.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return fmt.Errorf("realtime dial: closed during connect")
	}
	prev := rt.conn
	rt.conn = conn
	rt.connected = true
	rt.connecting = false
	rt.cancelFn = cancel
	rt.recon.reset()
	rt.mu.Unlock()

	if prev != nil {
		_ = prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	rt.dispatcher.emitConnected()

	if rt.config.UserID != 0 {
		rt.RegisterMember(rt.config.UserID)
	}

	go rt.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection and clears all listeners. Intended for
// logout; a fresh Connect plus re-registration brings the channel back.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.connected = false
	rt.mu.Unlock()

	rt.dispatcher.removeAll()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// RegisterRoom joins the room-scoped broadcast group. No acknowledgment is
// awaited; the return value only says whether the channel was connected at
// call time, not that the server saw the registration.
func (rt *RealtimeClient) RegisterRoom(roomID int) bool {
	return rt.emit("register", registerPayload{
		SourceName: fmt.Sprintf("%s%d", sourcePrefix, roomID),
	})
}

// RegisterMember announces this client under its member-wide name so the
// server can route notify_new_message broadcasts to it.
func (rt *RealtimeClient) RegisterMember(userID int) bool {
	return rt.emit("register_user", registerPayload{
		SourceName: fmt.Sprintf("%s%d", sourcePrefix, userID),
		SocketID:   rt.clientID,
	})
}

// NotifyMessage tells the room's counterpart that a message was created,
// updated or deleted. The mutation itself already happened over HTTP.
func (rt *RealtimeClient) NotifyMessage(roomID int, action RealtimeAction, messageID MessageID, content string) bool {
	return rt.emit("private message", PrivateMessage{
		SourceName: fmt.Sprintf("%s%d", sourcePrefix, roomID),
		TargetName: fmt.Sprintf("%s%d", targetPrefix, roomID),
		MessageID:  messageID,
		Message:    content,
		Action:     action,
	})
}

func (rt *RealtimeClient) emit(event string, payload interface{}) bool {
	rt.mu.Lock()
	conn := rt.conn
	connected := rt.connected
	rt.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		rt.logf("realtime emit %s: marshal: %v", event, err)
		return false
	}
	frame, err := json.Marshal(realtimeEnvelope{Event: event, Data: data})
	if err != nil {
		rt.logf("realtime emit %s: marshal: %v", event, err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		rt.logf("realtime emit %s: %v", event, err)
		return false
	}
	return true
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			if rt.conn != conn {
				// Superseded by a newer connection; nothing to tear down.
				rt.mu.Unlock()
				return
			}
			intentional := rt.intentionalClose
			rt.conn = nil
			rt.connected = false
			if !intentional {
				// Claim the dial cycle before releasing the lock so a
				// concurrent Connect stays a no-op.
				rt.connecting = true
			}
			rt.mu.Unlock()

			if intentional {
				return
			}

			rt.logf("realtime connection lost: %v", err)
			rt.dispatcher.emitDisconnected(err.Error())
			rt.scheduleReconnect()
			return
		}

		var env realtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		rt.dispatcher.dispatch(env, rt.config.UserID)
	}
}

// scheduleReconnect holds the connecting flag for the whole retry cycle,
// sleeps included, and is the only writer of reconnector state while it
// runs. It exits on success, on Disconnect, or when the budget is spent.
func (rt *RealtimeClient) scheduleReconnect() {
	for {
		rt.mu.Lock()
		if rt.intentionalClose || !rt.recon.shouldReconnect() {
			exhausted := !rt.intentionalClose
			rt.connecting = false
			rt.mu.Unlock()
			if exhausted {
				rt.logf("realtime reconnect attempts exhausted; channel down until next Connect")
			}
			return
		}
		delay := rt.recon.nextDelay()
		rt.mu.Unlock()

		time.Sleep(delay)

		if rt.dial(context.Background()) == nil {
			return
		}
	}
}

func (rt *RealtimeClient) logf(format string, args ...interface{}) {
	if rt.config.Logger != nil {
		rt.config.Logger.Printf(format, args...)
	}
}
