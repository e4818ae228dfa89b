// Package server runs HTTP servers until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options customise Serve. Zero values listen on server.Addr and watch
// SIGINT and SIGTERM.
type Options struct {
	Listener        net.Listener
	Signals         <-chan os.Signal
	ShutdownTimeout time.Duration
	// OnShutdown runs after the listener stops accepting requests and
	// in-flight requests have drained.
	OnShutdown func(ctx context.Context)
}

// Serve runs server until it fails or a signal asks it to stop, then shuts it
// down gracefully.
func Serve(server *http.Server, logger *zap.Logger, opts Options) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if opts.OnShutdown != nil {
			opts.OnShutdown(ctx)
		}
		return <-errCh
	}
}
