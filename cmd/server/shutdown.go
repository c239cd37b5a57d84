package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vod-server/internal/playback"
)

// encoderCleanupMargin is added to the encoder grace period when sizing the
// transcoder's shutdown budget.
const encoderCleanupMargin = 2 * time.Second

type drainer interface {
	Shutdown(ctx context.Context) error
}

type closer interface {
	Close(ctx context.Context) error
}

// shutdown drains HTTP connections and stops the transcoder at the same time.
// The transcoder has its own budget of at least grace plus a margin: long
// streams may hold the HTTP drain for the whole timeout, and encoders still
// need time to exit and remove their partial output.
func shutdown(srv drainer, orch closer, store *playback.Store, timeout, grace time.Duration, log *slog.Logger) error {
	closeCtx, cancelClose := context.WithTimeout(context.Background(), max(timeout, grace+encoderCleanupMargin))
	defer cancelClose()
	closeErr := make(chan error, 1)
	go func() { closeErr <- orch.Close(closeCtx) }()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
	defer cancelDrain()

	var errs []error
	if err := srv.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := <-closeErr; err != nil {
		errs = append(errs, fmt.Errorf("transcode shutdown: %w", err))
	}

	log.Info("playback positions discarded", "records", store.Len())
	store.Reset()
	return errors.Join(errs...)
}
