package isolation

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// MoveResult summarizes a MoveContents call. Moved counts entries renamed
// into the destination, including those moved by recursive merges.
type MoveResult struct {
	Moved  int
	Detail string
}

// MoveContents moves every entry of src into dst. Files that collide with
// a file at the destination replace it; directories that collide with a
// directory are merged recursively and the emptied source directory is
// removed. A file/directory mismatch aborts with ErrConflict. src itself is
// removed once empty.
//
// On error the returned MoveResult carries the count moved so far; nothing
// is rolled back.
func MoveContents(src, dst string) (MoveResult, error) {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return MoveResult{Detail: "Source directory does not exist or is not a directory: " + src}, nil
	}

	if SamePath(src, dst) {
		return MoveResult{Detail: "Source and destination directories are the same. No move needed."}, nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return MoveResult{Detail: "Failed to read source directory: " + err.Error()}, fsErr("read directory", src, err)
	}
	if len(entries) == 0 {
		return MoveResult{Detail: "Source directory is empty. Nothing to move."}, nil
	}

	if err := ValidateAndPrepare(dst); err != nil {
		return MoveResult{Detail: "Destination directory invalid or not writable: " + err.Error()}, err
	}

	moved := 0
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		dstInfo, err := os.Lstat(dstPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return MoveResult{Moved: moved, Detail: "Failed to inspect destination: " + err.Error()}, fsErr("stat", dstPath, err)
		}

		if err == nil {
			srcIsDir := entry.IsDir()
			dstIsDir := dstInfo.IsDir()

			switch {
			case srcIsDir && dstIsDir:
				sub, err := MoveContents(srcPath, dstPath)
				moved += sub.Moved
				if err != nil {
					return MoveResult{Moved: moved, Detail: "Failed to move subdirectory contents: " + sub.Detail}, err
				}
				if err := removeIfEmpty(srcPath); err != nil {
					return MoveResult{Moved: moved, Detail: "Failed to remove emptied subdirectory: " + err.Error()}, err
				}
				continue
			case !srcIsDir && !dstIsDir:
				if err := os.Remove(dstPath); err != nil {
					return MoveResult{Moved: moved, Detail: "Failed to remove existing file at destination: " + err.Error()}, fsErr("remove", dstPath, err)
				}
			default:
				err := fmt.Errorf("%w: %s (type mismatch)", ErrConflict, dstPath)
				return MoveResult{Moved: moved, Detail: "Conflict at destination: " + dstPath + " (type mismatch or unhandled)."}, err
			}
		}

		if err := rename(srcPath, dstPath); err != nil {
			return MoveResult{Moved: moved, Detail: "Filesystem error during move: " + err.Error()}, err
		}
		moved++
	}

	if err := removeIfEmpty(src); err != nil {
		return MoveResult{Moved: moved, Detail: "Failed to remove emptied source directory: " + err.Error()}, err
	}
	return MoveResult{Moved: moved, Detail: "Contents moved successfully."}, nil
}

// MoveOneFile moves a single file to dst, deleting any file already there.
func MoveOneFile(src, dst string) error {
	if info, err := os.Lstat(dst); err == nil {
		if info.IsDir() {
			return fsErr("move", dst, fmt.Errorf("%w: destination is a directory", ErrConflict))
		}
		if err := os.Remove(dst); err != nil {
			return fsErr("remove existing", dst, err)
		}
	}
	return rename(src, dst)
}

// removeIfEmpty removes dir when it has no entries. A dir that is already
// gone counts as removed.
func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fsErr("read directory", dir, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fsErr("remove directory", dir, err)
	}
	return nil
}

// rename moves src to dst, falling back to copy and delete when the two
// live on different filesystems.
func rename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fsErr("rename", src, err)
	}

	info, statErr := os.Lstat(src)
	if statErr != nil {
		return fsErr("stat", src, statErr)
	}
	if info.IsDir() {
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
			return fsErr("copy directory", src, err)
		}
		if err := os.RemoveAll(src); err != nil {
			return fsErr("remove after copy", src, err)
		}
		return nil
	}

	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		_ = os.Remove(dst)
		return fsErr("copy", src, err)
	}
	if err := os.Remove(src); err != nil {
		return fsErr("remove after copy", src, err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
