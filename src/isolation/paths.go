// Package isolation manages quarantine directories: validating them,
// normalizing user supplied roots, and moving files in and out.
package isolation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DirName is the final path component of every isolation root.
const DirName = ".isolated"

// ErrConflict is returned when a move would replace a file with a
// directory or the other way around.
var ErrConflict = errors.New("conflicting entry at destination")

// FilesystemError describes a failed filesystem operation on a path.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

func fsErr(op, path string, err error) error {
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// ValidateAndPrepare makes sure path is a directory the process can write
// to, creating it (and its parents) when missing. Write access is proven
// by creating, writing and removing a uniquely named probe file.
func ValidateAndPrepare(path string) error {
	if path == "" {
		return errors.New("isolation path cannot be empty")
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fsErr("create directory", path, err)
		}
	case err != nil:
		return fsErr("stat", path, err)
	case !info.IsDir():
		return fsErr("validate", path, errors.New("path exists but is not a directory"))
	}

	probe := filepath.Join(path, ".write_probe_"+uuid.NewString())
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fsErr("write probe file", probe, err)
	}
	if err := os.Remove(probe); err != nil {
		return fsErr("remove probe file", probe, err)
	}
	return nil
}

// Normalize turns a user supplied isolation path into an isolation root.
// The empty string is returned unchanged and means "use the default root".
// Any other path gets a trailing .isolated component unless it already
// ends in one. Normalize is idempotent.
func Normalize(userPath string) string {
	if userPath == "" {
		return ""
	}
	if filepath.Base(userPath) == DirName {
		return filepath.Clean(userPath)
	}
	return filepath.Join(userPath, DirName)
}

// Resolve normalizes userPath and substitutes defaultRoot for the empty
// sentinel.
func Resolve(userPath, defaultRoot string) string {
	if n := Normalize(userPath); n != "" {
		return n
	}
	return defaultRoot
}

// DefaultRoot returns <dir of executable>/.isolated.
func DefaultRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DirName), nil
}

// IsSubPath reports whether child lies strictly inside parent. The check is
// purely lexical and never touches the filesystem.
func IsSubPath(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == child {
		return false
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// SamePath reports whether a and b name the same location, either
// lexically or, when both exist, as the same file.
func SamePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// Exists reports whether path can be stat'ed without following a final
// symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// ReportLogSuffix is appended to an isolated file's path to name its saved
// analysis report.
const ReportLogSuffix = ".report.log"

// ReportLogPath returns where the analysis report for isolatedPath is kept.
func ReportLogPath(isolatedPath string) string {
	return isolatedPath + ReportLogSuffix
}

// RemoveReportLog deletes the saved report for isolatedPath, if any.
func RemoveReportLog(isolatedPath string) error {
	path := ReportLogPath(isolatedPath)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fsErr("remove report log", path, err)
	}
	return nil
}
