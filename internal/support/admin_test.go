package support

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/protocol"
)

func newTestAdmin(t *testing.T, customers ...model.Customer) (*AdminConsole, *fakeSocket, *fakeAPI, *recordingNotifier) {
	t.Helper()
	sock := newFakeSocket()
	api := newFakeAPI()
	api.customers = customers
	n := &recordingNotifier{}
	a := NewAdminConsole(AdminOptions{
		Socket:        sock,
		API:           api,
		Notifier:      n,
		TypingTimeout: 50 * time.Millisecond,
		PollInterval:  time.Hour,
	})
	t.Cleanup(a.Close)
	a.Start(context.Background())
	require.Eventually(t, func() bool { return api.listCount() >= 1 && len(a.Customers()) == len(customers) }, time.Second, 5*time.Millisecond)
	return a, sock, api, n
}

func TestAdminAnnouncesPresenceOnConnect(t *testing.T) {
	a, sock, _, _ := newTestAdmin(t)
	assert.Equal(t, 1, sock.connectCount())
	sock.up()
	assert.Equal(t, []protocol.Event{protocol.AdminConnected}, sock.events())
	assert.Equal(t, StatusConnected, a.Banner().Status())
}

func TestAdminSelectWhileConnectedEmitsInOrder(t *testing.T) {
	a, sock, api, _ := newTestAdmin(t, model.Customer{ID: "c42", Name: "Ann", UnreadCount: 2})
	sock.up()
	sock.reset()

	require.NoError(t, a.Select(context.Background(), "c42"))

	assert.Equal(t, []protocol.Event{protocol.AdminLeaveAllRooms, protocol.AdminJoinRoom, protocol.AdminRead}, sock.events())
	assert.Equal(t, payloadJSON(protocol.CustomerRef{CustomerID: "c42"}), payloadJSON(sock.emitted(protocol.AdminJoinRoom)[0]))
	assert.Equal(t, payloadJSON(protocol.CustomerRef{CustomerID: "c42"}), payloadJSON(sock.emitted(protocol.AdminRead)[0]))
	assert.Equal(t, 1, api.readCallsFor("c42"))
}

func TestAdminSelectWithoutUnreadSkipsRESTMark(t *testing.T) {
	a, sock, api, _ := newTestAdmin(t, model.Customer{ID: "c1"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	assert.Equal(t, 0, api.readCallsFor("c1"))
	assert.Len(t, sock.emitted(protocol.AdminRead), 1)
}

func TestAdminSelectWhileDisconnectedEmitsNothingUntilConnect(t *testing.T) {
	a, sock, api, _ := newTestAdmin(t, model.Customer{ID: "c42", UnreadCount: 1})
	api.chats["c42"] = []model.ChatMessage{{ID: "1", Text: "hi"}}

	require.NoError(t, a.Select(context.Background(), "c42"))
	assert.Empty(t, sock.events())
	assert.Len(t, a.Messages(), 1)

	sock.up()
	assert.Equal(t, []protocol.Event{
		protocol.AdminConnected,
		protocol.AdminLeaveAllRooms,
		protocol.AdminJoinRoom,
		protocol.AdminRead,
	}, sock.events())
}

func TestAdminSendPersistsThenMirrors(t *testing.T) {
	a, sock, api, _ := newTestAdmin(t, model.Customer{ID: "c1"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	sock.reset()
	before := api.listCount()

	msg, err := a.Send(context.Background(), "Your order is on its way")
	require.NoError(t, err)
	assert.Equal(t, "srv-Your order is on its way", msg.ID)
	mirrored := sock.emitted(protocol.AdminMessage)
	require.Len(t, mirrored, 1)
	assert.Equal(t, "c1", mirrored[0].(protocol.ChatPayload).CustomerID)
	assert.Len(t, a.Messages(), 1)
	assert.Eventually(t, func() bool { return api.listCount() > before }, time.Second, 5*time.Millisecond)
}

func TestAdminSendRESTFailureDoesNotMirror(t *testing.T) {
	a, sock, api, n := newTestAdmin(t, model.Customer{ID: "c1"})
	api.failSend = true
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	sock.reset()

	_, err := a.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, sock.emitted(protocol.AdminMessage))
	assert.Empty(t, a.Messages())
	assert.NotEmpty(t, n.all())
}

func TestAdminSendRequiresSelection(t *testing.T) {
	a, _, _, _ := newTestAdmin(t)
	_, err := a.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestAdminInboundCustomerMessage(t *testing.T) {
	a, sock, _, n := newTestAdmin(t, model.Customer{ID: "c1", Name: "Ann"}, model.Customer{ID: "c2", Name: "Bob"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	sock.reset()

	sock.fire(protocol.CustomerMessage, protocol.ChatPayload{CustomerID: "c1", Message: model.ChatMessage{ID: "m1", Sender: model.SenderCustomer, Text: "hi"}})
	assert.Len(t, a.Messages(), 1)
	assert.Equal(t, []protocol.Event{protocol.AdminRead}, sock.events())
	assert.Empty(t, n.all())

	sock.fire(protocol.CustomerMessage, protocol.ChatPayload{CustomerID: "c2", Message: model.ChatMessage{ID: "m2", Text: "anyone?"}})
	assert.Len(t, a.Messages(), 1)
	require.Len(t, n.all(), 1)
	assert.Equal(t, "New message from Bob", n.all()[0].Title)
}

func TestAdminSeesRepliesFromOtherAdmins(t *testing.T) {
	a, sock, api, n := newTestAdmin(t, model.Customer{ID: "c1", Name: "Ann"}, model.Customer{ID: "c2"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	lists := api.listCount()

	reply := protocol.ChatPayload{CustomerID: "c1", Message: model.ChatMessage{ID: "a7", Text: "on it"}}
	sock.fire(protocol.AdminMessage, reply)
	sock.fire(protocol.AdminMessage, reply)
	require.Len(t, a.Messages(), 1)
	assert.Equal(t, model.SenderAdmin, a.Messages()[0].Sender)
	assert.Equal(t, "on it", a.Messages()[0].Text)

	sock.fire(protocol.AdminMessage, protocol.ChatPayload{CustomerID: "c2", Message: model.ChatMessage{ID: "a8", Text: "elsewhere"}})
	assert.Len(t, a.Messages(), 1)
	assert.Empty(t, n.all())
	assert.Eventually(t, func() bool { return api.listCount() > lists }, time.Second, 5*time.Millisecond)
}

func TestAdminCustomerTypingDecays(t *testing.T) {
	a, sock, _, _ := newTestAdmin(t, model.Customer{ID: "c1"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))

	sock.fire(protocol.CustomerTyping, protocol.CustomerRef{CustomerID: "c2"})
	assert.False(t, a.CustomerTyping())

	sock.fire(protocol.CustomerTyping, protocol.CustomerRef{CustomerID: "c1"})
	assert.True(t, a.CustomerTyping())
	assert.Eventually(t, func() bool { return !a.CustomerTyping() }, time.Second, 5*time.Millisecond)

	sock.fire(protocol.CustomerTyping, "c1")
	assert.True(t, a.CustomerTyping(), "bare customer id payload is accepted")
}

func TestAdminTypingAndStatus(t *testing.T) {
	a, sock, api, _ := newTestAdmin(t, model.Customer{ID: "c1"})
	a.Typing()
	sock.up()
	a.Typing()
	assert.Empty(t, sock.emitted(protocol.AdminTyping), "no typing without a selection")

	require.NoError(t, a.Select(context.Background(), "c1"))
	a.Typing()
	assert.Len(t, sock.emitted(protocol.AdminTyping), 1)

	require.NoError(t, a.SetStatus(context.Background(), model.StatusResolved))
	assert.Equal(t, []statusCall{{"c1", model.StatusResolved}}, api.statusCalls())
	assert.Equal(t, []any{protocol.StatusPayload{CustomerID: "c1", Status: model.StatusResolved}}, sock.emitted(protocol.AdminStatusChange))

	assert.ErrorIs(t, a.SetStatus(context.Background(), "archived"), ErrValidation)
}

func TestAdminCustomerReadAndEndChat(t *testing.T) {
	a, sock, _, n := newTestAdmin(t, model.Customer{ID: "c1", Name: "Ann"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	_, err := a.Send(context.Background(), "hello")
	require.NoError(t, err)

	sock.fire(protocol.CustomerRead, protocol.ReadPayload{CustomerID: "c1", MessageIDs: []string{"srv-hello"}})
	assert.True(t, a.Messages()[0].Read)

	sock.fire(protocol.CustomerEndChat, protocol.CustomerRef{CustomerID: "c1"})
	msgs := a.Messages()
	assert.Equal(t, model.SenderSystem, msgs[len(msgs)-1].Sender)
	require.NotEmpty(t, n.all())
	assert.Equal(t, NotifyInfo, n.all()[len(n.all())-1].Kind)
}

func TestAdminDeselectLeavesRoom(t *testing.T) {
	a, sock, _, _ := newTestAdmin(t, model.Customer{ID: "c1"})
	sock.up()
	require.NoError(t, a.Select(context.Background(), "c1"))
	sock.reset()
	a.Deselect()
	assert.Equal(t, []protocol.Event{protocol.AdminLeaveRoom}, sock.events())
	assert.Empty(t, a.Selected())
}

func TestAdminCloseDetaches(t *testing.T) {
	a, sock, _, _ := newTestAdmin(t)
	a.Close()
	assert.Zero(t, sock.handlerCount())
}
