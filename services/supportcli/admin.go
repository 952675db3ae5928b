package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/socket"
	"github.com/supportdesk/internal/support"
	"github.com/supportdesk/internal/supportapi"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Answer customers from the admin support console",
	Long: `Commands: /list shows customers, /open N opens conversation N, /close
leaves it, /resolve and /reopen change its status, /quit leaves. Any other
line is sent to the open conversation.`,
	RunE: runAdmin,
}

func runAdmin(cmd *cobra.Command, _ []string) error {
	api := supportapi.New(backendURL, adminToken)
	policy := socket.DefaultPolicy()
	if cfg.Client.AdminReconnect.Delay > 0 {
		policy = socket.PolicyFromConfig(cfg.Client.AdminReconnect)
	}
	sock := newSocket(api, policy)
	defer sock.Close()

	scr := newScreen(cmd.OutOrStdout(), "Customer")
	var console *support.AdminConsole
	console = support.NewAdminConsole(support.AdminOptions{
		Socket:         sock,
		API:            api,
		Notifier:       printNotifier(cmd),
		TypingTimeout:  cfg.Client.TypingTimeout,
		BannerDuration: cfg.Client.BannerDuration,
		PollInterval:   cfg.Client.PollInterval,
		OnChange: func() {
			if console.Selected() == "" {
				return
			}
			scr.render(console.Messages(), console.Banner(), console.CustomerTyping())
		},
	})
	defer console.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	console.Start(ctx)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "/quit":
			return nil
		case "/list":
			printCustomers(cmd.OutOrStdout(), console.Customers(), console.Cache().FetchedAt(), time.Now())
		case "/open":
			customers := console.Customers()
			n := 0
			if len(fields) == 2 {
				n, _ = strconv.Atoi(fields[1])
			}
			if n < 1 || n > len(customers) {
				fmt.Fprintln(cmd.ErrOrStderr(), "usage: /open N (see /list)")
				continue
			}
			scr.reset()
			c := customers[n-1]
			octx, ocancel := context.WithTimeout(ctx, 10*time.Second)
			err := console.Select(octx, c.ID)
			ocancel()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "open %s: %v\n", c.Name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "== %s <%s> %s [%s]\n", c.Name, c.Email, c.Phone, c.Status)
			scr.render(console.Messages(), console.Banner(), console.CustomerTyping())
		case "/close":
			console.Deselect()
		case "/resolve", "/reopen":
			status := model.StatusResolved
			if fields[0] == "/reopen" {
				status = model.StatusActive
			}
			sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
			err := console.SetStatus(sctx, status)
			scancel()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "status: %v\n", err)
			}
		default:
			console.Typing()
			sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := console.Send(sctx, line)
			scancel()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "not sent: %v\n", err)
			}
		}
	}
	return in.Err()
}

func printCustomers(w io.Writer, customers []model.Customer, fetchedAt, now time.Time) {
	if fetchedAt.IsZero() {
		fmt.Fprintln(w, "customer list not loaded yet")
		return
	}
	fmt.Fprintf(w, "customers (updated %s ago)\n", now.Sub(fetchedAt).Round(time.Second))
	if len(customers) == 0 {
		fmt.Fprintln(w, "no customers yet")
		return
	}
	for i, c := range customers {
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Text
			if r := []rune(preview); len(r) > 40 {
				preview = string(r[:40]) + "..."
			}
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d new)", c.UnreadCount)
		}
		fmt.Fprintf(w, "%2d. %-20s %-9s%s %s\n", i+1, c.Name, c.Status, unread, preview)
	}
}
