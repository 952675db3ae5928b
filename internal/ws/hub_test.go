package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/service"
	"github.com/supportdesk/internal/storage/memory"
)

type fakePush struct {
	mu    sync.Mutex
	calls []map[string]string
}

func (p *fakePush) NotifyAdmins(_ context.Context, title, body string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, map[string]string{"title": title, "body": body, "customerId": data["customerId"]})
}

func (p *fakePush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type testEnv struct {
	hub      *Hub
	svc      *service.Support
	presence *memory.Client
	push     *fakePush
	srv      *httptest.Server
	stop     func()
}

func newTestEnv(t *testing.T, maxConns int) *testEnv {
	t.Helper()
	db := repository.NewMemoryDB()
	e := &testEnv{
		svc:      service.NewSupport(db.Customers(), db.Messages()),
		presence: memory.New(),
		push:     &fakePush{},
	}
	e.hub = NewHub(e.svc, e.presence, maxConns, e.push)
	ctx, cancel := context.WithCancel(context.Background())
	go e.hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := Role(r.URL.Query().Get("role"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(e.hub, conn, role)
		if !e.hub.Register(c) {
			ccancel()
			return
		}
		c.Start(cctx, ccancel)
	}))
	e.stop = func() {
		cancel()
		<-e.hub.done
	}
	t.Cleanup(func() {
		e.srv.Close()
		cancel()
		<-e.hub.done
	})
	return e
}

func (e *testEnv) dial(t *testing.T, role Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) register(t *testing.T, phone string) *model.Customer {
	t.Helper()
	c, err := e.svc.Register(context.Background(), model.Registration{Name: "Ann Lee", Email: "ann@example.com", Phone: phone})
	require.NoError(t, err)
	return c
}

// admin dials an admin connection and waits until the hub has it.
func (e *testEnv) admin(t *testing.T) *websocket.Conn {
	t.Helper()
	before, _ := e.presence.AdminsOnline(context.Background())
	beforeConns, _ := e.hub.Counts()
	conn := e.dial(t, RoleAdmin)
	send(t, conn, protocol.AdminConnected, nil)
	require.Eventually(t, func() bool {
		n, _ := e.presence.AdminsOnline(context.Background())
		admins, _ := e.hub.Counts()
		return n == before+1 && admins == beforeConns+1
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (e *testEnv) customer(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	_, before := e.hub.Counts()
	conn := e.dial(t, RoleCustomer)
	send(t, conn, protocol.CustomerAuth, protocol.CustomerRef{CustomerID: id})
	require.Eventually(t, func() bool {
		_, n := e.hub.Counts()
		return n == before+1
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (e *testEnv) join(t *testing.T, conn *websocket.Conn, customerID string) {
	t.Helper()
	e.hub.mu.RLock()
	before := len(e.hub.rooms[customerID])
	e.hub.mu.RUnlock()
	send(t, conn, protocol.AdminJoinRoom, protocol.CustomerRef{CustomerID: customerID})
	require.Eventually(t, func() bool {
		e.hub.mu.RLock()
		defer e.hub.mu.RUnlock()
		return len(e.hub.rooms[customerID]) == before+1
	}, 2*time.Second, 5*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, ev protocol.Event, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Outgoing{Type: ev, Payload: payload}))
}

func read(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var env protocol.Envelope
	err := conn.ReadJSON(&env)
	assert.Error(t, err, "unexpected frame %s", env.Type)
}

func TestCustomerMessageAckAndFanOut(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100001")
	a1 := e.admin(t)
	a2 := e.admin(t)
	cust := e.customer(t, c.ID)

	send(t, cust, protocol.CustomerMessage, protocol.ChatPayload{
		CustomerID: c.ID,
		Message:    model.ChatMessage{Text: "Hi"},
		TempID:     "temp-1",
	})

	ack := read(t, cust)
	require.Equal(t, protocol.MessageSent, ack.Type)
	var sent protocol.SentPayload
	require.NoError(t, ack.Decode(&sent))
	assert.Equal(t, "temp-1", sent.TempID)
	assert.NotEmpty(t, sent.MessageID)

	for _, a := range []*websocket.Conn{a1, a2} {
		env := read(t, a)
		require.Equal(t, protocol.CustomerMessage, env.Type)
		var p protocol.ChatPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, c.ID, p.CustomerID)
		assert.Equal(t, sent.MessageID, p.Message.ID)
		assert.Equal(t, "Hi", p.Message.Text)
	}

	history, err := e.svc.Chat(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SenderCustomer, history[0].Sender)
	assert.Zero(t, e.push.count())
}

func TestCustomerMessageErrors(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100002")

	anon := e.dial(t, RoleCustomer)
	send(t, anon, protocol.CustomerMessage, protocol.ChatPayload{Message: model.ChatMessage{Text: "Hi"}, TempID: "t1"})
	env := read(t, anon)
	require.Equal(t, protocol.MessageError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "t1", p.TempID)

	cust := e.customer(t, c.ID)
	send(t, cust, protocol.CustomerMessage, protocol.ChatPayload{Message: model.ChatMessage{Text: "   ", TempID: "t2"}})
	env = read(t, cust)
	require.Equal(t, protocol.MessageError, env.Type)
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "t2", p.TempID)
	assert.Equal(t, service.ErrEmptyText.Error(), p.Message)
}

func TestCustomerAuthUnknown(t *testing.T) {
	e := newTestEnv(t, 0)
	conn := e.dial(t, RoleCustomer)
	send(t, conn, protocol.CustomerAuth, "no-such-customer")
	env := read(t, conn)
	require.Equal(t, protocol.EventError, env.Type)
}

func TestTypingAndReadOnlyReachRoomAdmins(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100003")
	inRoom := e.admin(t)
	outside := e.admin(t)
	e.join(t, inRoom, c.ID)
	cust := e.customer(t, c.ID)

	send(t, cust, protocol.CustomerTyping, c.ID)
	env := read(t, inRoom)
	require.Equal(t, protocol.CustomerTyping, env.Type)
	var ref protocol.CustomerRef
	require.NoError(t, env.Decode(&ref))
	assert.Equal(t, c.ID, ref.CustomerID)

	send(t, cust, protocol.CustomerRead, protocol.ReadPayload{CustomerID: c.ID, MessageIDs: []string{"m1"}})
	env = read(t, inRoom)
	require.Equal(t, protocol.CustomerRead, env.Type)
	var rp protocol.ReadPayload
	require.NoError(t, env.Decode(&rp))
	assert.Equal(t, []string{"m1"}, rp.MessageIDs)

	expectSilence(t, outside)

	send(t, inRoom, protocol.AdminLeaveRoom, c.ID)
	require.Eventually(t, func() bool {
		e.hub.mu.RLock()
		defer e.hub.mu.RUnlock()
		return len(e.hub.rooms[c.ID]) == 0
	}, 2*time.Second, 5*time.Millisecond)
	send(t, cust, protocol.CustomerTyping, c.ID)
	expectSilence(t, inRoom)
}

func TestAdminEventsReachCustomer(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100004")
	ctx := context.Background()
	_, err := e.svc.CustomerMessage(ctx, c.ID, "help")
	require.NoError(t, err)

	adm := e.admin(t)
	peer := e.admin(t)
	e.join(t, peer, c.ID)
	cust := e.customer(t, c.ID)

	reply, err := e.svc.AdminMessage(ctx, c.ID, "On it")
	require.NoError(t, err)
	send(t, adm, protocol.AdminMessage, protocol.ChatPayload{CustomerID: c.ID, Message: *reply})
	env := read(t, cust)
	require.Equal(t, protocol.AdminMessage, env.Type)
	var p protocol.ChatPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, reply.ID, p.Message.ID)
	assert.Equal(t, model.SenderAdmin, p.Message.Sender)
	// Other admins viewing the room see the reply too.
	env = read(t, peer)
	assert.Equal(t, protocol.AdminMessage, env.Type)

	send(t, adm, protocol.AdminTyping, protocol.CustomerRef{CustomerID: c.ID})
	env = read(t, cust)
	require.Equal(t, protocol.AdminTyping, env.Type)

	send(t, adm, protocol.AdminRead, c.ID)
	env = read(t, cust)
	require.Equal(t, protocol.AdminRead, env.Type)
	list, err := e.svc.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)

	send(t, adm, protocol.AdminStatusChange, protocol.StatusPayload{CustomerID: c.ID, Status: model.StatusResolved})
	env = read(t, cust)
	require.Equal(t, protocol.AdminStatusChange, env.Type)
	env = read(t, peer)
	require.Equal(t, protocol.AdminStatusChange, env.Type)
}

func TestEndChatResolvesAndNotifiesAdmins(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100005")
	adm := e.admin(t)
	cust := e.customer(t, c.ID)

	send(t, cust, protocol.CustomerEndChat, protocol.CustomerRef{CustomerID: c.ID})
	env := read(t, adm)
	require.Equal(t, protocol.CustomerEndChat, env.Type)

	got, err := e.svc.Customer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)
}

func TestRoleChecks(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100006")
	cust := e.customer(t, c.ID)

	send(t, cust, protocol.AdminJoinRoom, c.ID)
	env := read(t, cust)
	require.Equal(t, protocol.EventError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, errForbidden.Error(), p.Message)

	send(t, cust, protocol.Event("customer:dance"), nil)
	env = read(t, cust)
	assert.Equal(t, protocol.EventError, env.Type)
}

func TestPushWhenNoAdminOnline(t *testing.T) {
	e := newTestEnv(t, 0)
	c := e.register(t, "+15550100007")
	cust := e.customer(t, c.ID)

	send(t, cust, protocol.CustomerMessage, protocol.ChatPayload{Message: model.ChatMessage{Text: "anyone?"}, TempID: "t"})
	require.Equal(t, protocol.MessageSent, read(t, cust).Type)
	require.Eventually(t, func() bool { return e.push.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	e.push.mu.Lock()
	call := e.push.calls[0]
	e.push.mu.Unlock()
	assert.Equal(t, "New message from Ann Lee", call["title"])
	assert.Equal(t, "anyone?", call["body"])
	assert.Equal(t, c.ID, call["customerId"])
}

func TestAdminDisconnectClearsPresence(t *testing.T) {
	e := newTestEnv(t, 0)
	adm := e.admin(t)
	adm.Close()
	require.Eventually(t, func() bool {
		n, _ := e.presence.AdminsOnline(context.Background())
		admins, _ := e.hub.Counts()
		return n == 0 && admins == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectionLimit(t *testing.T) {
	e := newTestEnv(t, 1)
	e.admin(t)
	extra := e.dial(t, RoleCustomer)
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()
	assert.Error(t, err)
}

func TestShortLivedConnectionsLeaveNothingBehind(t *testing.T) {
	e := newTestEnv(t, 0)
	for i := 0; i < 20; i++ {
		role := RoleCustomer
		if i%2 == 0 {
			role = RoleAdmin
		}
		conn := e.dial(t, role)
		conn.Close()
	}
	require.Eventually(t, func() bool {
		e.hub.mu.RLock()
		defer e.hub.mu.RUnlock()
		return len(e.hub.all) == 0 && len(e.hub.admins) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRejectedConnectionIsNotTracked(t *testing.T) {
	e := newTestEnv(t, 1)
	e.admin(t)
	for i := 0; i < 3; i++ {
		extra := e.dial(t, RoleCustomer)
		require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := extra.ReadMessage()
		require.Error(t, err)
	}
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	assert.Len(t, e.hub.all, 1)
	assert.Empty(t, e.hub.customers)
}

func TestRegisterAfterStopIsRejected(t *testing.T) {
	e := newTestEnv(t, 0)
	e.stop()
	conn := e.dial(t, RoleAdmin)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	admins, customers := e.hub.Counts()
	assert.Zero(t, admins)
	assert.Zero(t, customers)
}

func TestCustomerIDOf(t *testing.T) {
	env, err := protocol.Encode(protocol.AdminJoinRoom, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", customerIDOf(env))
	env, err = protocol.Encode(protocol.AdminJoinRoom, protocol.CustomerRef{CustomerID: " c2 "})
	require.NoError(t, err)
	assert.Equal(t, "c2", customerIDOf(env))
	assert.Empty(t, customerIDOf(protocol.Envelope{Type: protocol.AdminJoinRoom}))
}
