package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/support"
)

type msgState struct {
	delivery model.DeliveryStatus
	read     bool
}

// screen prints only what changed since the last render: new messages,
// delivery transitions, banner and typing flips.
type screen struct {
	mu       sync.Mutex
	out      io.Writer
	seen     map[string]msgState
	banner   support.BannerState
	typing   bool
	typingBy string
}

func newScreen(out io.Writer, typingBy string) *screen {
	return &screen{out: out, seen: make(map[string]msgState), typingBy: typingBy}
}

func (s *screen) reset() {
	s.mu.Lock()
	s.seen = make(map[string]msgState)
	s.mu.Unlock()
}

func (s *screen) render(msgs []model.ChatMessage, banner support.BannerState, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if banner != s.banner {
		s.banner = banner
		if banner.Visible || banner.Error != "" {
			fmt.Fprintf(s.out, "-- %s --\n", bannerText(banner))
		}
	}
	for i, m := range msgs {
		key := m.ID
		if m.TempID != "" {
			key = m.TempID
		}
		cur := msgState{delivery: m.Delivery, read: m.Read}
		prev, ok := s.seen[key]
		if ok && prev == cur {
			continue
		}
		s.seen[key] = cur
		if ok {
			switch {
			case m.Delivery == model.DeliveryFailed && prev.delivery != model.DeliveryFailed:
				fmt.Fprintf(s.out, "   ! message #%d failed, /retry %d to edit it again\n", i+1, i+1)
			case m.Read && !prev.read:
				fmt.Fprintf(s.out, "   message #%d read\n", i+1)
			}
			continue
		}
		fmt.Fprintln(s.out, formatMessage(i+1, m))
	}
	if typing != s.typing {
		s.typing = typing
		if typing {
			fmt.Fprintf(s.out, "   %s is typing...\n", s.typingBy)
		}
	}
}

func bannerText(b support.BannerState) string {
	if b.Status() == support.StatusErroring {
		return "connection error: " + b.Error
	}
	return b.Text
}

func formatMessage(n int, m model.ChatMessage) string {
	var mark string
	switch m.Delivery {
	case model.DeliveryPending:
		mark = " (sending)"
	case model.DeliveryFailed:
		mark = " (failed)"
	}
	if m.Read && m.Sender != model.SenderSystem {
		mark += " ✓✓"
	}
	who := strings.ToUpper(string(m.Sender[:1])) + string(m.Sender[1:])
	return fmt.Sprintf("#%d [%s] %s: %s%s", n, m.Timestamp.Local().Format("15:04"), who, m.Text, mark)
}
