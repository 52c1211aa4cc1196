package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/isolation"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/quarantine"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/report"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/sanitizer"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/transport"
)

// Service is the remote analysis contract. Both calls return a body even
// on failure.
type Service interface {
	Upload(ctx context.Context, path string) string
	FetchReport(ctx context.Context, jobID string) string
}

// Options tunes the scan task.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	// SaveReports writes the final report next to the isolated file.
	SaveReports bool
	// Details, when set, cleans every details string before it is sent.
	Details *sanitizer.Pipeline
}

// Orchestrator runs one detached scan task per quarantined file.
type Orchestrator struct {
	service Service
	sender  transport.Sender
	opts    Options
	logger  *slog.Logger

	wg     sync.WaitGroup
	active atomic.Int64
}

// New creates an Orchestrator. MaxAttempts below 1 is treated as 1.
func New(service Service, sender transport.Sender, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Orchestrator{
		service: service,
		sender:  sender,
		opts:    opts,
		logger:  logger.With("area", "scanner"),
	}
}

// Start launches the scan task for rec in its own goroutine. The record
// is a snapshot; later registry changes do not affect the task.
func (o *Orchestrator) Start(ctx context.Context, rec quarantine.PendingFile) {
	o.wg.Add(1)
	o.active.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Add(-1)
		o.Run(ctx, rec)
	}()
}

// Active returns the number of scan tasks still running.
func (o *Orchestrator) Active() int {
	return int(o.active.Load())
}

// Wait blocks until every started task has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d scan tasks: %w", o.Active(), ctx.Err())
	}
}

// Run executes one scan task synchronously: upload, progress notification,
// bounded polling, final notification. Progress is always sent; the final
// notification is skipped only when the upload failed.
func (o *Orchestrator) Run(ctx context.Context, rec quarantine.PendingFile) {
	logger := o.logger.With("task", uuid.NewString(), "notificationId", rec.NotificationID, "file", rec.Filename)
	logger.Info("uploading file for analysis", "path", rec.IsolatedPath)

	jobID, status, details := parseUpload(o.service.Upload(ctx, rec.IsolatedPath))
	o.notify(ctx, logger, rec, jobID, status, details)
	if status == report.StatusError {
		logger.Warn("upload failed; skipping report retrieval", "details", details)
		return
	}
	logger = logger.With("jobId", jobID)

	res, raw, ok := o.poll(ctx, logger, jobID)
	switch {
	case ok:
		status, details = res.Status, res.Details
		if o.opts.SaveReports {
			path, err := SaveReport(raw, rec.IsolatedPath)
			switch {
			case errors.Is(err, ErrNotIsolated):
				logger.Info("isolated file already handled; report not saved")
			case err != nil:
				logger.Warn("saving report failed", "error", err)
			default:
				logger.Debug("report saved", "path", path)
			}
		}
	case ctx.Err() != nil:
		status = report.StatusError
		details = "Scan cancelled before the analysis report was retrieved for job_id: " + jobID
	default:
		status = report.StatusError
		details = "Failed to retrieve analysis report after multiple attempts for job_id: " + jobID
	}

	o.notify(ctx, logger, rec, jobID, status, details)
	logger.Info("scan finished", "status", status)
}

// poll fetches the report up to MaxAttempts times, waiting PollInterval
// before each attempt. Only a body containing the completion marker counts.
func (o *Orchestrator) poll(ctx context.Context, logger *slog.Logger, jobID string) (report.Result, string, bool) {
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if !sleep(ctx, o.opts.PollInterval) {
			return report.Result{}, "", false
		}
		logger.Debug("fetching report", "attempt", attempt, "max", o.opts.MaxAttempts)

		raw := o.service.FetchReport(ctx, jobID)
		if !strings.Contains(raw, report.CompletionMarker) {
			continue
		}
		return report.Parse(raw), raw, true
	}
	return report.Result{}, "", false
}

func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, rec quarantine.PendingFile, jobID string, status report.Status, details string) {
	if o.opts.Details != nil {
		cleaned, err := o.opts.Details.Clean(ctx, details)
		if err != nil {
			logger.Debug("details not sanitized", "error", err)
		}
		details = cleaned
	}

	msg := transport.ScanResult{
		Type:                 transport.TypeScanResult,
		Status:               string(status),
		Details:              details,
		Filename:             rec.Filename,
		OriginalDownloadPath: rec.OriginalPath,
		IsolatedPath:         rec.IsolatedPath,
		NotificationID:       rec.NotificationID,
		JobID:                jobID,
	}
	if err := o.sender.Send(msg); err != nil {
		logger.Error("sending scan result failed", "status", status, "error", err)
	}
}

// parseUpload reads the analyze endpoint's reply. A string job_id means the
// file was accepted.
func parseUpload(body string) (jobID string, status report.Status, details string) {
	var reply map[string]any
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return "", report.StatusError, "Invalid JSON response from analyze endpoint: " + err.Error()
	}
	if id, ok := reply["job_id"].(string); ok {
		return id, report.StatusPending, "File uploaded. Waiting for analysis report. Job id: " + id
	}
	if e, ok := reply["error"]; ok {
		msg, _ := reply["details"].(string)
		if msg == "" {
			msg = fmt.Sprint(e)
		}
		return "", report.StatusError, "Failed to upload file or get job ID: " + msg
	}
	return "", report.StatusError, "Failed to upload file or get job ID."
}

// ErrNotIsolated is returned by SaveReport when the isolated file was
// deleted or restored before the report arrived.
var ErrNotIsolated = errors.New("isolated file no longer in quarantine")

// SaveReport writes raw next to the isolated file as <isolated>.report.log
// and returns the path written.
func SaveReport(raw, isolatedPath string) (string, error) {
	if !isolation.Exists(isolatedPath) {
		return "", ErrNotIsolated
	}
	path := isolation.ReportLogPath(isolatedPath)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return path, nil
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
