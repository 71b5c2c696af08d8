package teelink_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	teelink "github.com/teelink/teelink-go"
)

// fakeChannel records outbound realtime traffic and lets tests inject
// inbound events.
type fakeChannel struct {
	mu         sync.Mutex
	registered []int
	notified   []notifyCall

	private    map[int]func(teelink.PrivateMessage)
	roomUpdate map[int]func(teelink.RoomUpdate)
	notice     map[int]func(teelink.NewMessageNotice)
	connected  map[int]func()
	nextID     int
}

type notifyCall struct {
	RoomID    int
	Action    teelink.RealtimeAction
	MessageID teelink.MessageID
	Content   string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		private:    make(map[int]func(teelink.PrivateMessage)),
		roomUpdate: make(map[int]func(teelink.RoomUpdate)),
		notice:     make(map[int]func(teelink.NewMessageNotice)),
		connected:  make(map[int]func()),
	}
}

func (f *fakeChannel) RegisterRoom(roomID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, roomID)
	return true
}

func (f *fakeChannel) NotifyMessage(roomID int, action teelink.RealtimeAction, id teelink.MessageID, content string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, notifyCall{roomID, action, id, content})
	return true
}

func (f *fakeChannel) OnPrivateMessage(h func(teelink.PrivateMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.private[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.private, id)
	}
}

func (f *fakeChannel) OnRoomUpdate(h func(teelink.RoomUpdate)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.roomUpdate[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.roomUpdate, id)
	}
}

func (f *fakeChannel) OnNewMessageNotice(h func(teelink.NewMessageNotice)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.notice[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.notice, id)
	}
}

func (f *fakeChannel) OnConnected(h func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.connected[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.connected, id)
	}
}

func (f *fakeChannel) emitConnected() {
	f.mu.Lock()
	handlers := make([]func(), 0, len(f.connected))
	for _, h := range f.connected {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (f *fakeChannel) registeredRooms() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.registered...)
}

func (f *fakeChannel) emitPrivate(p teelink.PrivateMessage) {
	f.mu.Lock()
	handlers := make([]func(teelink.PrivateMessage), 0, len(f.private))
	for _, h := range f.private {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(p)
	}
}

func (f *fakeChannel) emitNotice(n teelink.NewMessageNotice) {
	f.mu.Lock()
	handlers := make([]func(teelink.NewMessageNotice), 0, len(f.notice))
	for _, h := range f.notice {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

func (f *fakeChannel) emitRoomUpdate(u teelink.RoomUpdate) {
	f.mu.Lock()
	handlers := make([]func(teelink.RoomUpdate), 0, len(f.roomUpdate))
	for _, h := range f.roomUpdate {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(u)
	}
}

func (f *fakeChannel) notifyCalls() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.notified...)
}

func ids(msgs []teelink.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ===========================================================================
// Conversation tests
// ===========================================================================

func TestConversationDisplayOrder(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("5", "e"), msg("4", "d"), msg("3", "c"))
	cs.setMessages(7, 2, msg("2", "b"), msg("1", "a"))

	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)
	ctx := context.Background()
	conv.LoadInitial(ctx)
	conv.LoadMore(ctx)

	got := ids(conv.Messages())
	want := []string{"1", "2", "3", "4", "5"}
	if !equalIDs(got, want) {
		t.Fatalf("display order = %v, want %v", got, want)
	}
	if !conv.HasMore() {
		t.Error("HasMore should be true before an empty page is seen")
	}
}

func TestConversationEmptyPageStopsPaging(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("2", "b"), msg("1", "a"))

	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)
	ctx := context.Background()
	conv.LoadInitial(ctx)
	conv.LoadMore(ctx)
	if conv.HasMore() {
		t.Fatal("empty page 2 should mark history exhausted")
	}

	// Further loads are no-ops, even if the backend would now serve data.
	cs.setMessages(7, 2, msg("0", "late"))
	conv.LoadMore(ctx)
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1", "2"}) {
		t.Fatalf("timeline changed after exhaustion: %v", got)
	}
}

func TestConversationUpdatePatchesOnlyTarget(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("3", "c"), msg("2", "b"), msg("1", "a"))

	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)
	conv.LoadInitial(context.Background())

	conv.ApplyUpdate("2", "b-edited")
	msgs := conv.Messages()
	if msgs[0].Body != "a" || msgs[1].Body != "b-edited" || msgs[2].Body != "c" {
		t.Fatalf("unexpected bodies after update: %q %q %q", msgs[0].Body, msgs[1].Body, msgs[2].Body)
	}

	// Unknown id is ignored.
	conv.ApplyUpdate("99", "ghost")
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1", "2", "3"}) {
		t.Fatalf("unknown-id update changed the timeline: %v", got)
	}
}

func TestConversationDeletePreservesOrder(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("4", "d"), msg("3", "c"), msg("2", "b"), msg("1", "a"))

	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)
	conv.LoadInitial(context.Background())

	conv.ApplyDelete("3")
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1", "2", "4"}) {
		t.Fatalf("order broken after delete: %v", got)
	}

	conv.ApplyDelete("99")
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1", "2", "4"}) {
		t.Fatalf("unknown-id delete changed the timeline: %v", got)
	}
}

func TestConversationSendClearsDraftAndNotifies(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("1", "a"))
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	conv.SetDraftText("tee time ok?")
	if err := conv.Send(ctx); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if d := conv.Draft(); !d.Empty() {
		t.Errorf("draft not cleared after send: %+v", d)
	}

	calls := ch.notifyCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 notify, got %d", len(calls))
	}
	if calls[0].Action != teelink.ActionCreate || calls[0].RoomID != 7 {
		t.Errorf("unexpected notify: %+v", calls[0])
	}

	// The reload picked up the row the server created.
	msgs := conv.Messages()
	if len(msgs) != 2 || msgs[1].Body != "tee time ok?" {
		t.Fatalf("timeline missing sent message: %v", ids(msgs))
	}
}

func TestConversationSendFailureRestoresDraft(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("1", "a"))
	cs.setFailures(true, false, false)
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	conv.SetDraftText("important question")
	conv.QuoteMessage(teelink.Message{Body: "quoted line"})
	if !conv.AttachFile(teelink.Attachment{Name: "map.png", Data: []byte{1}}) {
		t.Fatal("AttachFile refused under limit")
	}

	if err := conv.Send(ctx); err != teelink.ErrSendFailed {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}

	d := conv.Draft()
	if d.Text != "important question" || d.QuoteText != "quoted line" || len(d.Attachments) != 1 {
		t.Fatalf("draft not restored: %+v", d)
	}
	if calls := ch.notifyCalls(); len(calls) != 0 {
		t.Errorf("failed send still notified: %+v", calls)
	}
}

func TestConversationSendEmptyDraftIsNoop(t *testing.T) {
	cs := newChatServer(t)
	ch := newFakeChannel()
	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)

	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("empty send should be a silent no-op, got %v", err)
	}
	if calls := ch.notifyCalls(); len(calls) != 0 {
		t.Errorf("empty send notified: %+v", calls)
	}
}

func TestConversationEditEmitsOncePerSuccess(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("2", "b"), msg("1", "a"))
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	if err := conv.Edit(ctx, "2", "b-new"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	msgs := conv.Messages()
	if msgs[1].Body != "b-new" {
		t.Errorf("edit not applied locally: %q", msgs[1].Body)
	}
	calls := ch.notifyCalls()
	if len(calls) != 1 || calls[0].Action != teelink.ActionUpdate || calls[0].MessageID != "2" {
		t.Fatalf("expected exactly one update notify, got %+v", calls)
	}
}

func TestConversationEditFailureLeavesTimelineAlone(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("1", "a"))
	cs.setFailures(false, true, false)
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	if err := conv.Edit(ctx, "1", "mutated"); err != teelink.ErrEditFailed {
		t.Fatalf("expected ErrEditFailed, got %v", err)
	}
	if body := conv.Messages()[0].Body; body != "a" {
		t.Errorf("failed edit mutated timeline: %q", body)
	}
	if calls := ch.notifyCalls(); len(calls) != 0 {
		t.Errorf("failed edit notified: %+v", calls)
	}
}

func TestConversationDelete(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("2", "b"), msg("1", "a"))
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	if !conv.Delete(ctx, "2") {
		t.Fatal("Delete returned false")
	}
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1"}) {
		t.Fatalf("timeline after delete: %v", got)
	}
	calls := ch.notifyCalls()
	if len(calls) != 1 || calls[0].Action != teelink.ActionDelete {
		t.Fatalf("expected one delete notify, got %+v", calls)
	}

	cs.setFailures(false, false, true)
	if conv.Delete(ctx, "1") {
		t.Error("rejected delete reported success")
	}
	if got := ids(conv.Messages()); !equalIDs(got, []string{"1"}) {
		t.Errorf("rejected delete mutated timeline: %v", got)
	}
}

func TestConversationRemoteEvents(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("2", "b"), msg("1", "a"))
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	ctx := context.Background()
	conv.Open(ctx)

	ch.mu.Lock()
	registered := append([]int(nil), ch.registered...)
	ch.mu.Unlock()
	if len(registered) != 1 || registered[0] != 7 {
		t.Fatalf("Open did not register room 7: %v", registered)
	}

	// Remote update patches in place.
	ch.emitPrivate(teelink.PrivateMessage{Action: teelink.ActionUpdate, MessageID: "1", Message: "a-remote"})
	if body := conv.Messages()[0].Body; body != "a-remote" {
		t.Errorf("remote update not applied: %q", body)
	}

	// Remote delete removes.
	ch.emitPrivate(teelink.PrivateMessage{Action: teelink.ActionDelete, MessageID: "1"})
	if got := ids(conv.Messages()); !equalIDs(got, []string{"2"}) {
		t.Errorf("remote delete not applied: %v", got)
	}

	// Remote create reloads page one.
	cs.setMessages(7, 1, msg("3", "c"), msg("2", "b"))
	ch.emitPrivate(teelink.PrivateMessage{Action: teelink.ActionCreate, MessageID: "3"})
	if got := ids(conv.Messages()); !equalIDs(got, []string{"2", "3"}) {
		t.Errorf("remote create did not reload: %v", got)
	}

	// After Close, events are ignored.
	conv.Close()
	ch.emitPrivate(teelink.PrivateMessage{Action: teelink.ActionDelete, MessageID: "2"})
	if got := ids(conv.Messages()); !equalIDs(got, []string{"2", "3"}) {
		t.Errorf("closed conversation still handled events: %v", got)
	}
}

func TestConversationSingleLoadInFlight(t *testing.T) {
	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			close(entered)
			<-release
		}
		writeEnvelope(w, true, []teelink.Message{msg("1", "a")}, "")
	}))
	defer srv.Close()

	store := teelink.NewMemoryTokenStore()
	_ = store.SetToken(testToken)
	client := teelink.NewClient(srv.URL, teelink.WithTokenStore(store))
	conv := teelink.NewConversation(client.Messages(), nil, 7)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		conv.LoadInitial(ctx)
		close(done)
	}()
	<-entered

	// Triggers landing while the first fetch is pending are no-ops.
	conv.LoadInitial(ctx)
	conv.LoadMore(ctx)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("server saw %d requests during one pending load", n)
	}

	close(release)
	<-done

	// Once the pending load completes, the gate reopens.
	conv.LoadMore(ctx)
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("server saw %d requests after the gate reopened, want 2", n)
	}
}

func TestConversationReregistersRoomOnReconnect(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("1", "a"))
	ch := newFakeChannel()

	conv := teelink.NewConversation(cs.client(t).Messages(), ch, 7)
	conv.Open(context.Background())

	if got := ch.registeredRooms(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("registrations after Open = %v, want [7]", got)
	}

	// A reconnect wipes server-side group membership; the conversation
	// must announce the room again.
	ch.emitConnected()
	if got := ch.registeredRooms(); len(got) != 2 || got[1] != 7 {
		t.Fatalf("registrations after reconnect = %v, want [7 7]", got)
	}

	conv.Close()
	ch.emitConnected()
	if got := ch.registeredRooms(); len(got) != 2 {
		t.Errorf("closed conversation re-registered: %v", got)
	}
}

func TestConversationAttachmentLimit(t *testing.T) {
	cs := newChatServer(t)
	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)

	for i := 0; i < teelink.MaxAttachments; i++ {
		if !conv.AttachFile(teelink.Attachment{Name: "f.txt", Data: []byte{1}}) {
			t.Fatalf("attachment %d refused under limit", i+1)
		}
	}
	if conv.AttachFile(teelink.Attachment{Name: "extra.txt", Data: []byte{1}}) {
		t.Fatal("attachment over limit accepted")
	}

	conv.RemoveAttachment(0)
	if !conv.AttachFile(teelink.Attachment{Name: "again.txt", Data: []byte{1}}) {
		t.Fatal("slot freed by removal not reusable")
	}
}

func TestConversationChangeListener(t *testing.T) {
	cs := newChatServer(t)
	cs.setMessages(7, 1, msg("1", "a"))

	conv := teelink.NewConversation(cs.client(t).Messages(), nil, 7)
	fires := 0
	unsub := conv.OnChange(func() { fires++ })

	conv.LoadInitial(context.Background())
	if fires == 0 {
		t.Fatal("OnChange not fired by LoadInitial")
	}

	before := fires
	unsub()
	conv.SetDraftText("x")
	if fires != before {
		t.Error("unsubscribed listener still fired")
	}
}

// ===========================================================================
// RoomList tests
// ===========================================================================

func TestRoomListPaging(t *testing.T) {
	cs := newChatServer(t)
	cs.mu.Lock()
	cs.roomPages[1] = []teelink.Room{{ID: 1, GolfClubName: "A"}, {ID: 2, GolfClubName: "B"}}
	cs.roomPages[2] = []teelink.Room{{ID: 3, GolfClubName: "C"}}
	cs.mu.Unlock()

	rl := teelink.NewRoomList(cs.client(t).Messages(), nil, 42)
	ctx := context.Background()
	rl.Open(ctx)
	rl.LoadMore(ctx)

	rooms := rl.Rooms()
	if len(rooms) != 3 || rooms[2].ID != 3 {
		t.Fatalf("unexpected rooms after paging: %+v", rooms)
	}

	rl.LoadMore(ctx)
	if rl.HasMore() {
		t.Error("empty page should mark the list exhausted")
	}
}

func TestRoomListUnreadFlag(t *testing.T) {
	cs := newChatServer(t)
	ch := newFakeChannel()

	rl := teelink.NewRoomList(cs.client(t).Messages(), ch, 42)
	rl.Open(context.Background())

	if rl.HasUnread() {
		t.Fatal("unread set before any event")
	}

	ch.emitNotice(teelink.NewMessageNotice{MemberID: 42, HasMessage: true})
	if !rl.HasUnread() {
		t.Fatal("notice did not raise unread")
	}

	rl.ClearUnread()
	if rl.HasUnread() {
		t.Fatal("ClearUnread did not clear")
	}

	ch.emitNotice(teelink.NewMessageNotice{MemberID: 42, HasMessage: false})
	if rl.HasUnread() {
		t.Error("hasMessage=false raised unread")
	}

	ch.emitPrivate(teelink.PrivateMessage{Action: teelink.ActionCreate, MessageID: "9"})
	if !rl.HasUnread() {
		t.Error("incoming chat message did not raise unread")
	}
}

func TestRoomListReloadOnRoomUpdate(t *testing.T) {
	cs := newChatServer(t)
	cs.mu.Lock()
	cs.roomPages[1] = []teelink.Room{{ID: 1, GolfClubName: "A"}}
	cs.mu.Unlock()
	ch := newFakeChannel()

	rl := teelink.NewRoomList(cs.client(t).Messages(), ch, 42)
	rl.Open(context.Background())

	cs.mu.Lock()
	cs.roomPages[1] = []teelink.Room{{ID: 1, GolfClubName: "A", UnreadCount: 1}, {ID: 2, GolfClubName: "B"}}
	cs.mu.Unlock()

	ch.emitRoomUpdate(teelink.RoomUpdate{RoomID: 1})
	rooms := rl.Rooms()
	if len(rooms) != 2 || rooms[0].UnreadCount != 1 {
		t.Fatalf("room_update did not reload: %+v", rooms)
	}
}
