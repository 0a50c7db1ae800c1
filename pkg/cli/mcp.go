package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/service/mcp"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve streamable HTTP on this address instead of stdio",
			Sources:     cli.EnvVars("NUTRIGUIDE_MCP_HTTP"),
			Destination: &addr,
		},
	}
	flags = append(flags, agentCommandFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve send_turn and update_profile as an MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			agent, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}
			server := mcp.NewServer(agent, Version)

			if addr == "" {
				logging.From(ctx).Info("serving MCP on stdio")
				return mcp.Serve(ctx, server)
			}
			return serveHTTP(ctx, addr, mcp.NewHTTPHandler(server))
		},
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("serving MCP over HTTP", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "failed to serve MCP over HTTP", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down MCP server")
		}
		return nil
	}
}
