package support

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
	"github.com/supportdesk/internal/socket"
)

type emitted struct {
	Event   protocol.Event
	Payload any
}

type fakeSocket struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	emits       []emitted
	handlers    map[protocol.Event]map[int]socket.Handler
	nextID      int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[protocol.Event]map[int]socket.Handler)}
}

func (f *fakeSocket) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.fire(protocol.EventDisconnect, "io client disconnect")
	}
}

func (f *fakeSocket) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) Emit(ev protocol.Event, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return socket.ErrNotConnected
	}
	f.emits = append(f.emits, emitted{Event: ev, Payload: payload})
	return nil
}

func (f *fakeSocket) On(ev protocol.Event, fn socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.handlers[ev] == nil {
		f.handlers[ev] = make(map[int]socket.Handler)
	}
	f.handlers[ev][id] = fn
	return func() {
		f.mu.Lock()
		delete(f.handlers[ev], id)
		f.mu.Unlock()
	}
}

// up simulates a successful (re)connect.
func (f *fakeSocket) up() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.fire(protocol.EventConnect, nil)
}

// drop simulates a transport loss.
func (f *fakeSocket) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(protocol.EventDisconnect, "transport close")
}

func (f *fakeSocket) fire(ev protocol.Event, payload any) {
	env, err := protocol.Encode(ev, payload)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	var fns []socket.Handler
	for i := 1; i <= f.nextID; i++ {
		if fn, ok := f.handlers[ev][i]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

func (f *fakeSocket) events() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Event, 0, len(f.emits))
	for _, e := range f.emits {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeSocket) emitted(ev protocol.Event) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emits {
		if e.Event == ev {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (f *fakeSocket) reset() {
	f.mu.Lock()
	f.emits = nil
	f.mu.Unlock()
}

func (f *fakeSocket) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeSocket) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeSocket) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type statusCall struct {
	CustomerID string
	Status     model.ConversationStatus
}

type fakeAPI struct {
	mu         sync.Mutex
	customers  []model.Customer
	chats      map[string][]model.ChatMessage
	listCalls  int
	readCalls  []string
	statuses   []statusCall
	sent       []model.ChatMessage
	registered []model.Registration
	failSend   bool
	failStatus bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{chats: make(map[string][]model.ChatMessage)}
}

func (f *fakeAPI) ListCustomers(context.Context) ([]model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]model.Customer(nil), f.customers...), nil
}

func (f *fakeAPI) GetChat(_ context.Context, id string) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChatMessage(nil), f.chats[id]...), nil
}

func (f *fakeAPI) SendAdminMessage(_ context.Context, id, text string) (*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return nil, errors.New("boom")
	}
	m := model.ChatMessage{ID: "srv-" + text, CustomerID: id, Sender: model.SenderAdmin, Text: text}
	f.sent = append(f.sent, m)
	return &m, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, id)
	return nil
}

func (f *fakeAPI) SetStatus(_ context.Context, id string, st model.ConversationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStatus {
		return errors.New("status failed")
	}
	f.statuses = append(f.statuses, statusCall{id, st})
	return nil
}

func (f *fakeAPI) Register(_ context.Context, reg model.Registration) (*model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, reg)
	return &model.Customer{ID: "c1", Name: reg.Name, Email: reg.Email, Phone: reg.Phone, Status: model.StatusActive}, nil
}

func (f *fakeAPI) Lookup(_ context.Context, phone string) (*model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.Phone == phone {
			c := c
			return &c, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeAPI) readCallsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.readCalls {
		if r == id {
			n++
		}
	}
	return n
}

func (f *fakeAPI) statusCalls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.statuses...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// payloadJSON normalizes any emitted payload for comparisons.
func payloadJSON(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
