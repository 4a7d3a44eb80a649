package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/js8chat/internal/database"
	"github.com/dbehnke/js8chat/internal/js8"
)

type fakeRadio struct {
	mu        sync.Mutex
	connected bool
	callsign  string
	sent      []string
	sendErr   error
	handlers  map[js8.EventType][]js8.Handler
	activity  map[string]js8.CallActivityEntry

	// callsignGate, when set, holds StationCallsign until it is closed
	callsignGate chan struct{}
	lookups      int
}

func newFakeRadio(callsign string) *fakeRadio {
	return &fakeRadio{
		connected: true,
		callsign:  callsign,
		handlers:  make(map[js8.EventType][]js8.Handler),
		activity:  map[string]js8.CallActivityEntry{"W1AW": {SNR: -3, Grid: "FN31"}},
	}
}

func (r *fakeRadio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeRadio) Subscribe(t js8.EventType, handler js8.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], handler)
	n := len(r.handlers[t]) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.handlers[t][n] = nil
	}
}

func (r *fakeRadio) StationCallsign(ctx context.Context) (string, error) {
	r.mu.Lock()
	r.lookups++
	gate := r.callsignGate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", nil
		}
	}
	if !r.Connected() {
		return "", js8.ErrNotConnected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callsign, nil
}

func (r *fakeRadio) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func (r *fakeRadio) StationInfo(context.Context) (js8.StationInfo, error) {
	if !r.Connected() {
		return js8.StationInfo{}, js8.ErrNotConnected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return js8.StationInfo{Callsign: r.callsign, Grid: "FN42", Frequency: 14079500, Dial: 14078000, Offset: 1500}, nil
}

func (r *fakeRadio) CallActivity(context.Context) (map[string]js8.CallActivityEntry, error) {
	return r.activity, nil
}

func (r *fakeRadio) SendMessage(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, text)
	return nil
}

// emit delivers an event synchronously, the way the dispatcher goroutine would
func (r *fakeRadio) emit(t *testing.T, et js8.EventType, msg *js8.Message) {
	t.Helper()
	r.mu.Lock()
	handlers := append([]js8.Handler(nil), r.handlers[et]...)
	r.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if err := h(js8.Event{Type: et, Message: msg}); err != nil {
			t.Fatalf("handler for %v: %v", et, err)
		}
	}
}

type published struct {
	eventType string
	data      any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType, data})
}

func (p *fakePublisher) ofType(eventType string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.eventType == eventType {
			out = append(out, e.data)
		}
	}
	return out
}

func newTestService(t *testing.T, radio *fakeRadio) (*Service, *fakePublisher, *database.DB) {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "messages.db")}, nil)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pub := &fakePublisher{}
	svc := NewService(radio, db, pub, nil, Config{MessageLimit: 50})
	// as if the connect-time lookup already finished
	svc.setCallsign(radio.callsign)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc, pub, db
}

func TestIncomingDirectedMessage(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, pub, _ := newTestService(t, radio)

	radio.emit(t, js8.EventIncomingText, &js8.Message{
		Type:   js8.TypeRxText,
		Value:  "kc1abc: n0call HELLO: HOW COPY?",
		Params: map[string]any{"SNR": int64(-12), "FREQ": int64(14079500), "GRID": "FN42"},
	})

	msgs, err := svc.Messages("KC1ABC", 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.From != "KC1ABC" || m.To != "N0CALL" || m.Text != "n0call HELLO: HOW COPY?" {
		t.Errorf("stored %+v", m)
	}
	if m.Direction != database.DirectionIncoming || m.IsRead {
		t.Errorf("direction/read = %s/%v, want incoming/false", m.Direction, m.IsRead)
	}
	if m.SNR == nil || *m.SNR != -12 || m.Frequency == nil || *m.Frequency != 14079500 {
		t.Errorf("SNR/Frequency = %v/%v", m.SNR, m.Frequency)
	}

	convs, _ := svc.Conversations()
	if convs[0].Callsign != "KC1ABC" || convs[0].UnreadCount != 1 || convs[0].Grid != "FN42" {
		t.Errorf("top conversation = %+v", convs[0])
	}

	updates := pub.ofType(EventConversationUpdated)
	if len(updates) != 1 || updates[0] != (ConversationUpdate{Callsign: "KC1ABC", UnreadCount: 1}) {
		t.Errorf("conversation updates = %v", updates)
	}
	if len(pub.ofType(EventMessageNew)) != 1 {
		t.Errorf("message:new published %d times, want 1", len(pub.ofType(EventMessageNew)))
	}
}

func TestIncomingUndirectedGoesToAllCall(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, _, _ := newTestService(t, radio)

	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxActivity, Value: "W1AW: CQ CQ DE W1AW"})
	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "W1AW: QRZ?"})

	msgs, _ := svc.Messages(database.AllCall, 0)
	if len(msgs) != 2 {
		t.Fatalf("@allcall has %d messages, want 2", len(msgs))
	}
	if msgs[0].To != database.AllCall || msgs[0].SNR != nil {
		t.Errorf("first message = %+v", msgs[0])
	}

	convs, err := svc.Conversations()
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	for _, c := range convs {
		if c.Callsign == "W1AW" {
			t.Errorf("undirected traffic opened a conversation with the sender")
		}
		if c.Callsign == database.AllCall && (c.UnreadCount != 2 || c.LastMessage != "QRZ?") {
			t.Errorf("@allcall = %+v, want 2 unread and last QRZ?", c)
		}
	}
}

func TestIncomingIgnoresUnparseable(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	_, pub, db := newTestService(t, radio)

	for _, value := range []string{"", "   ", "no colon here", ": missing sender"} {
		radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: value})
	}

	count, _ := database.NewMessageRepository(db.GetDB()).Count()
	if count != 0 {
		t.Errorf("stored %d messages, want 0", count)
	}
	if len(pub.ofType(EventMessageNew)) != 0 {
		t.Errorf("published message:new for unparseable text")
	}
}

func TestIncomingWithoutCallsignIsUndirected(t *testing.T) {
	radio := newFakeRadio("")
	svc, _, _ := newTestService(t, radio)

	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: HELLO"})

	msgs, _ := svc.Messages(database.AllCall, 0)
	if len(msgs) != 1 {
		t.Fatalf("@allcall has %d messages, want 1", len(msgs))
	}
}

func TestIncomingTextNeverWaitsOnController(t *testing.T) {
	radio := newFakeRadio("")
	radio.callsignGate = make(chan struct{})
	svc, _, _ := newTestService(t, radio)

	start := time.Now()
	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: N0CALL HELLO"})
	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: N0CALL AGN"})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("incoming text handling took %v while the callsign lookup was stalled", elapsed)
	}

	// Unknown callsign: filed as undirected, one lookup in flight
	if msgs, _ := svc.Messages(database.AllCall, 0); len(msgs) != 2 {
		t.Fatalf("@allcall has %d messages, want 2", len(msgs))
	}
	deadline := time.Now().Add(2 * time.Second)
	for radio.lookupCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := radio.lookupCount(); n != 1 {
		t.Errorf("callsign lookups = %d, want 1", n)
	}

	radio.mu.Lock()
	radio.callsign = "N0CALL"
	radio.mu.Unlock()
	close(radio.callsignGate)
	deadline = time.Now().Add(2 * time.Second)
	for svc.Callsign() != "N0CALL" {
		if time.Now().After(deadline) {
			t.Fatalf("callsign cache never filled, got %q", svc.Callsign())
		}
		time.Sleep(5 * time.Millisecond)
	}

	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: N0CALL 73"})
	if msgs, _ := svc.Messages("KC1ABC", 0); len(msgs) != 1 || msgs[0].Text != "N0CALL 73" {
		t.Errorf("KC1ABC conversation = %+v, want the directed 73", msgs)
	}
}

func TestSendMessage(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, pub, _ := newTestService(t, radio)

	msg, err := svc.SendMessage(context.Background(), "kc1abc", "  GM OM  ")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(radio.sent) != 1 || radio.sent[0] != "KC1ABC GM OM" {
		t.Errorf("transmitted %q, want %q", radio.sent, "KC1ABC GM OM")
	}
	if msg.From != "N0CALL" || msg.Conversation != "KC1ABC" || !msg.IsRead || msg.Direction != database.DirectionOutgoing {
		t.Errorf("stored %+v", msg)
	}

	convs, _ := svc.Conversations()
	if convs[0].Callsign != "KC1ABC" || convs[0].LastMessage != "GM OM" || convs[0].UnreadCount != 0 {
		t.Errorf("top conversation = %+v", convs[0])
	}
	if len(pub.ofType(EventMessageNew)) != 1 {
		t.Errorf("message:new not published")
	}

	// Groups are transmitted upper case but stored under their canonical name
	if _, err := svc.SendMessage(context.Background(), "@ALLCALL", "CQ"); err != nil {
		t.Fatalf("SendMessage(@allcall) error = %v", err)
	}
	if radio.sent[1] != "@ALLCALL CQ" {
		t.Errorf("transmitted %q, want %q", radio.sent[1], "@ALLCALL CQ")
	}
	if msgs, _ := svc.Messages(database.AllCall, 0); len(msgs) != 1 {
		t.Errorf("@allcall has %d messages, want 1", len(msgs))
	}
}

func TestSendMessageErrors(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, pub, db := newTestService(t, radio)

	tests := []struct {
		name    string
		to      string
		text    string
		sendErr error
		want    error
	}{
		{name: "missing recipient", to: " ", text: "HI", want: ErrInvalidMessage},
		{name: "missing text", to: "KC1ABC", text: "", want: ErrInvalidMessage},
		{name: "not connected", to: "KC1ABC", text: "HI", sendErr: js8.ErrNotConnected, want: js8.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio.sendErr = tt.sendErr
			_, err := svc.SendMessage(context.Background(), tt.to, tt.text)
			if !errors.Is(err, tt.want) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.want)
			}
		})
	}

	count, _ := database.NewMessageRepository(db.GetDB()).Count()
	if count != 0 {
		t.Errorf("stored %d messages after failed sends, want 0", count)
	}
	if len(pub.ofType(EventMessageNew)) != 0 {
		t.Errorf("published message:new for failed sends")
	}
}

func TestMarkRead(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, pub, _ := newTestService(t, radio)

	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: N0CALL ONE"})
	radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "KC1ABC: N0CALL TWO"})

	if err := svc.MarkRead("kc1abc"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	msgs, _ := svc.Messages("KC1ABC", 0)
	for _, m := range msgs {
		if !m.IsRead {
			t.Errorf("message %q still unread", m.Text)
		}
	}
	convs, _ := svc.Conversations()
	if convs[0].UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", convs[0].UnreadCount)
	}

	updates := pub.ofType(EventConversationUpdated)
	if last := updates[len(updates)-1]; last != (ConversationUpdate{Callsign: "KC1ABC"}) {
		t.Errorf("last conversation update = %v", last)
	}
}

func TestStationAndCallsignCache(t *testing.T) {
	radio := newFakeRadio("n0call")
	svc, _, _ := newTestService(t, radio)

	status, err := svc.Station(context.Background())
	if err != nil {
		t.Fatalf("Station() error = %v", err)
	}
	if !status.Connected || status.Grid != "FN42" || status.Frequency != 14079500 {
		t.Errorf("Station() = %+v", status)
	}
	if svc.Callsign() != "N0CALL" {
		t.Errorf("Callsign() = %q, want N0CALL", svc.Callsign())
	}

	// A STATION.CALLSIGN notification updates the cache
	radio.emit(t, js8.EventStationCallsign, &js8.Message{Type: js8.TypeStationCallsign, Value: "KC1XYZ"})
	if svc.Callsign() != "KC1XYZ" {
		t.Errorf("Callsign() = %q, want KC1XYZ", svc.Callsign())
	}

	radio.mu.Lock()
	radio.connected = false
	radio.mu.Unlock()
	if _, err := svc.Station(context.Background()); !errors.Is(err, js8.ErrNotConnected) {
		t.Errorf("Station() while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestConnectionAndActivityEvents(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	_, pub, _ := newTestService(t, radio)

	radio.emit(t, js8.EventConnected, nil)
	radio.emit(t, js8.EventDisconnected, nil)

	statuses := pub.ofType(EventConnectionStatus)
	if len(statuses) != 2 || statuses[0] != (ConnectionStatus{Connected: true}) || statuses[1] != (ConnectionStatus{Connected: false}) {
		t.Errorf("connection statuses = %v", statuses)
	}

	activity, err := js8.ParseMessage([]byte(`{"type":"RX.CALL_ACTIVITY","params":{"W1AW":{"SNR":-3,"GRID":"FN31","UTC":1},"_ID":9}}`))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	radio.emit(t, js8.EventCallActivity, activity)

	calls := pub.ofType(EventCallActivity)
	if len(calls) != 1 {
		t.Fatalf("activity:call published %d times, want 1", len(calls))
	}
	table := calls[0].(map[string]js8.CallActivityEntry)
	if _, leaked := table["_ID"]; leaked || table["W1AW"].Grid != "FN31" {
		t.Errorf("activity table = %v", table)
	}
}

func TestPollNow(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, pub, _ := newTestService(t, radio)

	if err := svc.PollNow(context.Background()); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
	if len(pub.ofType(EventStationInfo)) != 1 || len(pub.ofType(EventCallActivity)) != 1 {
		t.Errorf("PollNow published %v", pub.events)
	}

	radio.mu.Lock()
	radio.connected = false
	radio.mu.Unlock()
	if err := svc.PollNow(context.Background()); err != nil {
		t.Fatalf("PollNow() while disconnected error = %v", err)
	}
	if len(pub.ofType(EventStationInfo)) != 1 {
		t.Errorf("PollNow published while disconnected")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	db, err := database.NewDB(database.Config{Path: database.MemoryPath}, nil)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	defer db.Close()

	pub := &fakePublisher{}
	svc := NewService(radio, db, pub, nil, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.ofType(EventStationInfo)) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if len(pub.ofType(EventStationInfo)) < 2 {
		t.Errorf("poller published %d station updates, want at least 2", len(pub.ofType(EventStationInfo)))
	}
}

func TestMessagesLimit(t *testing.T) {
	radio := newFakeRadio("N0CALL")
	svc, _, _ := newTestService(t, radio)

	for i := 0; i < 60; i++ {
		radio.emit(t, js8.EventIncomingText, &js8.Message{Type: js8.TypeRxText, Value: "W1AW: CQ"})
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 50},
		{-1, 50},
		{10, 10},
		{500, 50},
	}
	for _, tt := range tests {
		msgs, err := svc.Messages(database.AllCall, tt.limit)
		if err != nil {
			t.Fatalf("Messages() error = %v", err)
		}
		if len(msgs) != tt.want {
			t.Errorf("Messages(limit %d) returned %d, want %d", tt.limit, len(msgs), tt.want)
		}
	}
}
