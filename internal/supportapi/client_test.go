package supportapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/internal/model"
)

func TestSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", New("http://localhost:8080/", "").SocketURL())
	assert.Equal(t, "wss://pos.example.com/ws", New("https://pos.example.com", "").SocketURL())
}

func TestBearerAndBody(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody SendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(model.ChatMessage{ID: "m1", CustomerID: gotBody.CustomerID, Text: gotBody.Text, Sender: model.SenderAdmin})
	}))
	defer srv.Close()

	msg, err := New(srv.URL, "tok").SendAdminMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/support/messages", gotPath)
	assert.Equal(t, SendMessageRequest{CustomerID: "c1", Text: "hello"}, gotBody)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, model.SenderAdmin, msg.Sender)
}

func TestNoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "/support/lookup/+15550100001", r.URL.Path)
		_ = json.NewEncoder(w).Encode(model.Customer{ID: "c1", Phone: "+15550100001"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "").Lookup(context.Background(), "+15550100001")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
}

func TestAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/support/chats/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"customer not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "")
	ctx := context.Background()

	_, err := c.GetChat(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "customer not found", apiErr.Message)
	assert.Equal(t, "GetChat", apiErr.Op)

	err = c.MarkRead(ctx, "c1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.False(t, IsNotFound(err))
}
