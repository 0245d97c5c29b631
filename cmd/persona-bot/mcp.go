package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-persona-bot/internal/mcp"
)

func newMCPCmd(version string) *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve persona administration tools over MCP stdio",
		Long: `Run an MCP server on stdin/stdout whose tools call the admin API of a
running "persona-bot serve". The API address comes from --api-url,
BOT_API_URL, or ADMIN_API_PORT on 127.0.0.1.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" {
				apiURL = defaultAPIURL()
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcp.NewServer(mcp.NewClient(apiURL), version, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "admin API base URL")
	return cmd
}

func defaultAPIURL() string {
	if u := os.Getenv("BOT_API_URL"); u != "" {
		return u
	}
	port := os.Getenv("ADMIN_API_PORT")
	if port == "" {
		port = "9876"
	}
	return fmt.Sprintf("http://127.0.0.1:%s", port)
}
