package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
)

func newTestSupport() *Support {
	db := repository.NewMemoryDB()
	return NewSupport(db.Customers(), db.Messages())
}

func validReg() model.Registration {
	return model.Registration{Name: "Ann Lee", Email: "ann@example.com", Phone: "+1 555 010 9999"}
}

func TestRegisterValidates(t *testing.T) {
	s := newTestSupport()
	_, err := s.Register(context.Background(), model.Registration{Name: "Ann", Email: "nope", Phone: "+15550109999"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterReturnsExistingByPhone(t *testing.T) {
	ctx := context.Background()
	s := newTestSupport()
	c1, err := s.Register(ctx, validReg())
	require.NoError(t, err)
	assert.Equal(t, "+15550109999", c1.Phone)

	require.NoError(t, s.SetStatus(ctx, c1.ID, model.StatusResolved))
	c2, err := s.Register(ctx, validReg())
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, model.StatusActive, c2.Status)

	found, err := s.Lookup(ctx, "+1 (555) 010-9999")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, found.ID)

	_, err = s.Lookup(ctx, "+10000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesAndUnreadCounter(t *testing.T) {
	ctx := context.Background()
	s := newTestSupport()
	c, err := s.Register(ctx, validReg())
	require.NoError(t, err)

	_, err = s.CustomerMessage(ctx, c.ID, "  hello ")
	require.NoError(t, err)
	m2, err := s.CustomerMessage(ctx, c.ID, "anyone?")
	require.NoError(t, err)
	a1, err := s.AdminMessage(ctx, c.ID, "Hi, how can I help?")
	require.NoError(t, err)

	list, err := s.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, a1.ID, list[0].LastMessage.ID)

	n, err := s.MarkReadByAdmin(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got, _ := s.Customer(ctx, c.ID)
	assert.Zero(t, got.UnreadCount)

	n, err = s.MarkReadByCustomer(ctx, c.ID, []string{a1.ID, m2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only admin messages are marked by the customer")

	msgs, err := s.Chat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[2].Read)
}

func TestMessageValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestSupport()
	c, _ := s.Register(ctx, validReg())

	_, err := s.CustomerMessage(ctx, c.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = s.AdminMessage(ctx, "missing", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CustomerMessage(ctx, c.ID, strings.Repeat("a", maxTextLen+1))
	assert.ErrorIs(t, err, ErrTextTooLong)
	m, err := s.CustomerMessage(ctx, c.ID, strings.Repeat("щ", maxTextLen))
	require.NoError(t, err, "length counts characters, not bytes")
	assert.Equal(t, maxTextLen, utf8.RuneCountInString(m.Text))
	_, err = s.CustomerMessage(ctx, c.ID, strings.Repeat("щ", maxTextLen+1))
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.ErrorIs(t, s.SetStatus(ctx, c.ID, "archived"), ErrInvalidStatus)
}

func TestEndChatAndReopen(t *testing.T) {
	ctx := context.Background()
	s := newTestSupport()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	c, _ := s.Register(ctx, validReg())

	sys, err := s.EndChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SenderSystem, sys.Sender)
	got, _ := s.Customer(ctx, c.ID)
	assert.Equal(t, model.StatusResolved, got.Status)

	_, err = s.CustomerMessage(ctx, c.ID, "one more thing")
	require.NoError(t, err)
	got, _ = s.Customer(ctx, c.ID)
	assert.Equal(t, model.StatusActive, got.Status)
	msgs, _ := s.Chat(ctx, c.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, reopenedSystemText, msgs[1].Text)
}
