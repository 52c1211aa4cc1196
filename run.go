package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/config"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/control"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/host"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/isolation"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/sanitizer"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/scanner"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/transport"
)

// runHost wires the host from cfg and serves the framed protocol on in/out
// until the browser disconnects or the process is signalled.
func runHost(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, log *slog.Logger) error {
	order, err := transport.ParseByteOrder(cfg.Protocol.ByteOrder)
	if err != nil {
		return fmt.Errorf("protocol: %w", err)
	}

	defaultRoot := cfg.Isolation.DefaultRoot
	if defaultRoot == "" {
		if defaultRoot, err = isolation.DefaultRoot(); err != nil {
			return fmt.Errorf("isolation root: %w", err)
		}
	}
	lockFile := cfg.Isolation.LockFile
	if lockFile == "" {
		dir, err := executableDir()
		if err != nil {
			return err
		}
		lockFile = filepath.Join(dir, config.DefaultLockFileName)
	}

	channel := transport.NewChannel(in, out, order)

	sc := cfg.Scanner
	timeout := time.Duration(*sc.RequestTimeoutSeconds) * time.Second
	client := scanner.NewClient(sc.AnalyzeURL, sc.ReportURL, timeout, *sc.UploadsPerMinute)
	scans := scanner.New(client, channel, scanner.Options{
		PollInterval: time.Duration(*sc.PollIntervalSeconds) * time.Second,
		MaxAttempts:  *sc.MaxAttempts,
		SaveReports:  *sc.SaveReports,
		Details:      sanitizer.ForDetails(*sc.MaxDetailsChars),
	}, log)

	h := host.New(channel, channel, scans, defaultRoot, isolation.NewLocker(lockFile), log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	controlDone := make(chan error, 1)
	if cfg.Control.Addr != "" {
		srv := control.New(h, cfg.Control, log)
		go func() {
			controlDone <- srv.Run(ctx)
			close(controlDone)
		}()
	} else {
		close(controlDone)
	}

	log.Info("quarantine host starting",
		"version", transport.Version,
		"isolationRoot", defaultRoot,
		"analyzeURL", sc.AnalyzeURL,
		"byteOrder", cfg.Protocol.ByteOrder,
	)

	runErr := h.Run(ctx)
	if runErr != nil {
		log.Warn("listener stopped; host is no longer receiving browser messages", "error", runErr)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout(sc))
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error("scan tasks still running at shutdown", "error", err)
	}
	stop()

	if runErr != nil && cfg.Control.Addr != "" {
		// The status server stays up so the degraded state can be observed.
		waitCtx, stopWait := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-waitCtx.Done():
		case err := <-controlDone:
			if err != nil {
				log.Error("control server", "error", err)
			}
		}
		stopWait()
	}

	cancel()
	if err, ok := <-controlDone; ok && err != nil {
		log.Error("control server", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, transport.ErrChannelClosed) {
		return runErr
	}
	return nil
}

// shutdownTimeout covers one full scan task: every poll plus its request.
func shutdownTimeout(sc config.ScannerConfig) time.Duration {
	per := time.Duration(*sc.PollIntervalSeconds+*sc.RequestTimeoutSeconds) * time.Second
	return time.Duration(*sc.MaxAttempts)*per + time.Duration(*sc.RequestTimeoutSeconds)*time.Second
}
