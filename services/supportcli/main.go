// Command supportcli is a terminal support chat client with admin and customer modes.
package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/supportdesk/internal/config"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/socket"
	"github.com/supportdesk/internal/supportapi"
)

var (
	cfg        *config.Config
	backendURL string
	adminToken string
)

var rootCmd = &cobra.Command{
	Use:   "supportcli",
	Short: "Terminal client for the restaurant support chat",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetPrefix("supportcli")
		cfg = config.Load()
		if backendURL == "" {
			backendURL = cfg.Client.BackendURL
		}
		if adminToken == "" {
			adminToken = cfg.Client.AdminToken
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "support backend URL (default from SUPPORT_BACKEND_URL)")
	rootCmd.AddCommand(adminCmd, customerCmd)
	adminCmd.Flags().StringVar(&adminToken, "token", "", "admin token (default from ADMIN_TOKEN)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// newSocket builds the shared connection. Admin connections authenticate with
// the bearer token at upgrade time.
func newSocket(api *supportapi.Client, policy socket.ReconnectPolicy) *socket.Conn {
	h := http.Header{}
	if t := api.Token(); t != "" {
		h.Set("Authorization", "Bearer "+t)
	}
	return socket.New(socket.Options{URL: api.SocketURL(), Header: h, Reconnect: policy})
}
