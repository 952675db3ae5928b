package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
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

var customerFlags struct {
	name, email, phone string
	lookup             string
}

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Chat with support as a restaurant customer",
	Long: `Registers (or, with --lookup, resumes) a customer and opens the chat.
Commands: /retry N puts failed message N back into the composer, /end ends
the chat, /quit leaves.`,
	RunE: runCustomer,
}

func init() {
	f := customerCmd.Flags()
	f.StringVar(&customerFlags.name, "name", "", "your name")
	f.StringVar(&customerFlags.email, "email", "", "your email")
	f.StringVar(&customerFlags.phone, "phone", "", "your phone number")
	f.StringVar(&customerFlags.lookup, "lookup", "", "resume the conversation of this phone number")
}

func runCustomer(cmd *cobra.Command, _ []string) error {
	api := supportapi.New(backendURL, "")
	sock := newSocket(api, socket.PolicyFromConfig(cfg.Client.CustomerReconnect))
	defer sock.Close()

	scr := newScreen(cmd.OutOrStdout(), "Support")
	var sess *support.CustomerSession
	sess = support.NewCustomerSession(support.CustomerOptions{
		Socket:         sock,
		API:            api,
		Notifier:       printNotifier(cmd),
		TypingTimeout:  cfg.Client.TypingTimeout,
		BannerDuration: cfg.Client.BannerDuration,
		EndChatDelay:   cfg.Client.EndChatDelay,
		OnChange: func() {
			scr.render(sess.Messages(), sess.Banner(), sess.AdminTyping())
		},
	})
	defer sess.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	var (
		c   *model.Customer
		err error
	)
	if customerFlags.lookup != "" {
		c, err = sess.Lookup(ctx, customerFlags.lookup)
	} else {
		c, err = sess.Register(ctx, model.Registration{
			Name:  customerFlags.name,
			Email: customerFlags.email,
			Phone: customerFlags.phone,
		})
	}
	cancel()
	if err != nil {
		if supportapi.IsNotFound(err) {
			return fmt.Errorf("no conversation for %s, register with --name --email --phone", customerFlags.lookup)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Hello %s, a support agent will answer shortly.\n", c.Name)
	scr.render(sess.Messages(), sess.Banner(), sess.AdminTyping())

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/end":
			if p := sess.Pending(); len(p) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d message(s) still sending\n", len(p))
			}
			ectx, ecancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			err := sess.EndChat(ectx)
			ecancel()
			if err != nil && !errors.Is(err, support.ErrChatEnded) {
				return err
			}
			time.Sleep(cfg.Client.EndChatDelay)
			return nil
		case strings.HasPrefix(line, "/retry"):
			retryMessage(cmd, sess, strings.TrimSpace(strings.TrimPrefix(line, "/retry")))
		default:
			sess.Input(line)
			if _, err := sess.Send(line); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "not sent: %v\n", err)
			}
		}
	}
	return in.Err()
}

func retryMessage(cmd *cobra.Command, sess *support.CustomerSession, arg string) {
	n, err := strconv.Atoi(arg)
	msgs := sess.Messages()
	if err != nil || n < 1 || n > len(msgs) {
		fmt.Fprintln(cmd.ErrOrStderr(), "usage: /retry N")
		return
	}
	text, err := sess.Retry(msgs[n-1].TempID)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "cannot retry #%d: %v\n", n, err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "edit and send again: %s\n", text)
}

func printNotifier(cmd *cobra.Command) support.Notifier {
	return support.NotifierFunc(func(n support.Notification) {
		w := cmd.OutOrStdout()
		if n.Kind == support.NotifyError {
			w = cmd.ErrOrStderr()
		}
		fmt.Fprintf(w, "* %s: %s\n", n.Title, n.Text)
	})
}
