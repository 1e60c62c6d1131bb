package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/reportgraph/internal/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the research agent over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.settings.ServerAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	rt, err := wire(ctx, a.settings, a.logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := []server.Option{server.WithLogger(a.logger)}
	if a.settings.JWTSecret != "" {
		auth, err := server.NewAuthenticator(a.settings.JWTSecret)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAuth(auth))
	} else {
		a.logger.Warn("no JWT secret configured, the API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              a.settings.ServerAddr,
		Handler:           server.New(rt.driver, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("reportd listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
