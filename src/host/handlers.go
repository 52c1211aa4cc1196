package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/isolation"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/quarantine"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/transport"
)

// Decision actions.
const (
	ActionDelete  = "delete"
	ActionIsolate = "isolate"
	ActionRestore = "restore"
)

// lockTimeout bounds how long a handler waits for another host process to
// finish moving files.
const lockTimeout = 30 * time.Second

func (h *Host) dispatch(ctx context.Context, msg transport.Message) {
	logger := h.logger.With("type", msg.Type())
	logger.Debug("message received")

	switch msg.Type() {
	case transport.TypeInitiateIsolation:
		resp, rec := h.handleInitiate(ctx, msg)
		// The reply goes out before the scan task can emit its first result.
		h.send(resp)
		if rec != nil {
			h.scans.Start(ctx, *rec)
		}
	case transport.TypeFileActionDecision:
		h.send(h.handleDecision(ctx, msg))
	case transport.TypeUpdateIsolationPath:
		h.send(h.handleUpdatePath(ctx, msg))
	default:
		logger.Warn("unrecognized message")
		h.send(transport.Unrecognized{Status: transport.StatusUnrecognized, OriginalMessage: msg})
	}
}

// lock takes the cross-process isolation lock for one handler.
func (h *Host) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	return h.locker.Lock(ctx)
}

// handleInitiate moves the download into isolation. The returned record is
// non-nil only when the file was isolated and registered.
func (h *Host) handleInitiate(ctx context.Context, msg transport.Message) (transport.IsolationStatus, *quarantine.PendingFile) {
	downloadPath := msg.String("filename", "")
	requested := msg.String("isolationPath", "")
	id := msg.String("notificationId", "")

	root := isolation.Resolve(requested, h.defaultRoot)
	resp := transport.IsolationStatus{
		Type:                   transport.TypeIsolationStatus,
		Status:                 transport.StatusFailed,
		Filename:               filepath.Base(downloadPath),
		OriginalDownloadPath:   downloadPath,
		IsolatedPath:           filepath.Join(root, filepath.Base(downloadPath)),
		RequestedIsolationPath: requested,
		NotificationID:         id,
	}
	logger := h.logger.With("notificationId", id, "file", resp.Filename)

	if downloadPath == "" {
		resp.Filename = ""
		resp.IsolatedPath = ""
		resp.Details = "No downloaded file path provided."
		return resp, nil
	}

	unlock, err := h.lock(ctx)
	if err != nil {
		resp.Details = "Isolation lock unavailable: " + err.Error()
		logger.Error("isolation lock", "error", err)
		return resp, nil
	}
	defer unlock()

	if err := isolation.ValidateAndPrepare(root); err != nil {
		resp.Details = "Isolation path invalid or no permissions: " + err.Error()
		logger.Error("isolation path re-validation failed", "root", root, "error", err)
		return resp, nil
	}

	if err := isolation.MoveOneFile(downloadPath, resp.IsolatedPath); err != nil {
		resp.Details = "Failed to move original file to isolation: " + err.Error()
		logger.Error("moving file into isolation", "error", err)
		return resp, nil
	}

	resp.Status = transport.StatusSuccessful
	resp.Details = "File successfully moved to isolation."
	logger.Info("file isolated", "isolatedPath", resp.IsolatedPath)

	rec := quarantine.PendingFile{
		OriginalPath:   downloadPath,
		IsolatedPath:   resp.IsolatedPath,
		Filename:       resp.Filename,
		NotificationID: id,
	}
	if prev, replaced := h.registry.Insert(id, rec); replaced {
		logger.Warn("duplicate notificationId; previous pending record overwritten",
			"previousPath", prev.IsolatedPath)
	}
	h.setRoot(root)
	return resp, &rec
}

func (h *Host) handleDecision(ctx context.Context, msg transport.Message) transport.ActionDecisionStatus {
	id := msg.String("notificationId", "")
	action := msg.String("action", "")

	resp := transport.ActionDecisionStatus{
		Type:            transport.TypeActionDecisionStatus,
		Status:          transport.StatusFailed,
		NotificationID:  id,
		ActionPerformed: action,
	}
	logger := h.logger.With("notificationId", id, "action", action)

	if !h.registry.Contains(id) {
		resp.Details = "No pending file details found for this decision."
		logger.Warn("decision for unknown notificationId")
		return resp
	}
	switch action {
	case ActionDelete, ActionIsolate, ActionRestore:
	default:
		resp.Details = "Unknown action requested: " + action
		logger.Warn("unknown action")
		return resp
	}

	// The record is taken only while the lock is held.
	unlock, err := h.lock(ctx)
	if err != nil {
		resp.Details = "Isolation lock unavailable: " + err.Error()
		logger.Error("isolation lock", "error", err)
		return resp
	}
	defer unlock()

	rec, ok := h.registry.Take(id)
	if !ok {
		resp.Details = "No pending file details found for this decision."
		logger.Warn("pending record taken by a concurrent decision")
		return resp
	}

	switch action {
	case ActionDelete:
		if !isolation.Exists(rec.IsolatedPath) {
			resp.Details = "File not found in isolation for deletion."
			break
		}
		if err := os.Remove(rec.IsolatedPath); err != nil {
			resp.Details = "Filesystem error during action: " + err.Error()
			break
		}
		resp.Status = transport.StatusSuccess
		resp.Details = "File successfully deleted from isolation."

	case ActionIsolate:
		if !isolation.Exists(rec.IsolatedPath) {
			resp.Details = "File not found in isolation to confirm."
			break
		}
		resp.Status = transport.StatusSuccess
		resp.Details = "File remains in isolation as requested."

	case ActionRestore:
		if err := isolation.ValidateAndPrepare(filepath.Dir(rec.OriginalPath)); err != nil {
			resp.Details = "Cannot restore: target directory invalid or not writable: " + err.Error()
			break
		}
		if !isolation.Exists(rec.IsolatedPath) {
			resp.Details = "File not found in isolation to restore."
			break
		}
		if err := isolation.MoveOneFile(rec.IsolatedPath, rec.OriginalPath); err != nil {
			resp.Details = "Filesystem error during action: " + err.Error()
			break
		}
		resp.Status = transport.StatusSuccess
		resp.Details = "File successfully restored to original download location."
		resp.RestoredPath = rec.OriginalPath
	}

	if resp.Status == transport.StatusSuccess && action != ActionIsolate {
		if err := isolation.RemoveReportLog(rec.IsolatedPath); err != nil {
			logger.Warn("removing saved report", "error", err)
		}
	}

	if resp.Status == transport.StatusSuccess {
		logger.Info("decision applied", "path", rec.IsolatedPath)
	} else {
		logger.Error("decision failed", "path", rec.IsolatedPath, "details", resp.Details)
	}
	return resp
}

func (h *Host) handleUpdatePath(ctx context.Context, msg transport.Message) transport.UpdateIsolationPathStatus {
	oldReq := msg.String("oldPath", "")
	newReq := msg.String("newPath", "")

	oldRoot := isolation.Resolve(oldReq, h.defaultRoot)
	newRoot := isolation.Resolve(newReq, h.defaultRoot)
	resp := transport.UpdateIsolationPathStatus{
		Type:             transport.TypeUpdateIsolationPathStatus,
		Status:           transport.StatusFailed,
		RequestedOldPath: oldReq,
		RequestedNewPath: newReq,
		ResolvedOldPath:  oldRoot,
		ResolvedNewPath:  newRoot,
	}
	logger := h.logger.With("oldRoot", oldRoot, "newRoot", newRoot)

	if isolation.IsSubPath(oldRoot, newRoot) {
		resp.Details = "New isolation path is a subdirectory of the old path. Move operation aborted to prevent data loss or infinite recursion."
		logger.Warn("isolation path update rejected")
		return resp
	}

	unlock, err := h.lock(ctx)
	if err != nil {
		resp.Details = "Isolation lock unavailable: " + err.Error()
		logger.Error("isolation lock", "error", err)
		return resp
	}
	defer unlock()

	if err := isolation.ValidateAndPrepare(newRoot); err != nil {
		resp.Details = "New path validation failed: " + err.Error()
		logger.Error("new isolation path invalid", "error", err)
		return resp
	}

	switch {
	case isolation.SamePath(oldRoot, newRoot):
		resp.Status = transport.StatusSuccess
		resp.Details = "New path is same as old path. No move needed. Path validated successfully."
	case !isolation.Exists(oldRoot):
		resp.Status = transport.StatusSuccess
		resp.Details = "Isolation path validated successfully. No old directory to move."
	default:
		res, err := isolation.MoveContents(oldRoot, newRoot)
		resp.MovedCount = &res.Moved
		if err != nil {
			resp.Details = "Failed to move old isolation directory contents: " + res.Detail
			logger.Error("moving isolation contents", "moved", res.Moved, "error", err)
			return resp
		}
		resp.Status = transport.StatusSuccess
		resp.Details = fmt.Sprintf("Isolation path updated. %s Moved %d items.", res.Detail, res.Moved)
		logger.Info("isolation contents moved", "moved", res.Moved)
	}

	h.setRoot(newRoot)
	return resp
}
