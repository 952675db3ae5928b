package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/support"
)

func TestScreenPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	scr := newScreen(&out, "Support")
	ts := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	pending := model.ChatMessage{ID: "temp-1", TempID: "temp-1", Sender: model.SenderCustomer, Text: "Hi", Timestamp: ts, Delivery: model.DeliveryPending}

	scr.render([]model.ChatMessage{pending}, support.BannerState{}, false)
	assert.Contains(t, out.String(), "Customer: Hi (sending)")

	out.Reset()
	scr.render([]model.ChatMessage{pending}, support.BannerState{}, false)
	assert.Empty(t, out.String())

	failed := pending
	failed.Delivery = model.DeliveryFailed
	scr.render([]model.ChatMessage{failed}, support.BannerState{}, true)
	assert.Contains(t, out.String(), "message #1 failed")
	assert.Contains(t, out.String(), "Support is typing")
}

func TestBannerText(t *testing.T) {
	assert.Equal(t, "connection error: refused", bannerText(support.BannerState{Visible: true, Error: "refused"}))
	assert.Equal(t, "Connected", bannerText(support.BannerState{Connected: true, Visible: true, Text: "Connected"}))
}

func TestPrintCustomers(t *testing.T) {
	var out bytes.Buffer
	now := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)

	printCustomers(&out, nil, time.Time{}, now)
	assert.Equal(t, "customer list not loaded yet\n", out.String())

	out.Reset()
	customers := []model.Customer{
		{Name: "Ann Lee", Status: model.StatusActive, UnreadCount: 2, LastMessage: &model.ChatMessage{Text: "where is my order?"}},
		{Name: "Bob", Status: model.StatusResolved},
	}
	printCustomers(&out, customers, now.Add(-12*time.Second), now)
	assert.Contains(t, out.String(), "customers (updated 12s ago)")
	assert.Contains(t, out.String(), "(2 new) where is my order?")
	assert.Contains(t, out.String(), " 2. Bob")
}
