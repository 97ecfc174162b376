// Package fsutil holds small filesystem helpers on top of afero.
package fsutil

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/goplus/extdep/internal/logger"
)

// Exists reports whether anything exists at path.
func Exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

// IsDir reports whether path exists and is a directory.
func IsDir(fs afero.Fs, path string) bool {
	ok, err := afero.DirExists(fs, path)
	return err == nil && ok
}

// IsFile reports whether path exists and is a regular file.
func IsFile(fs afero.Fs, path string) bool {
	fi, err := fs.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// CreateDirectory creates path and any missing parents.
func CreateDirectory(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// RemoveOnError removes the directory tree at path when *errp is non-nil
// at the time the returned function runs. Anything else at path is kept. It is meant to be deferred:
//
//	defer fsutil.RemoveOnError(fs, log, dst, &err)()
//
// A failed removal is logged and never replaces *errp.
func RemoveOnError(fs afero.Fs, log logger.Logger, path string, errp *error) func() {
	return func() {
		if *errp == nil {
			return
		}
		log.Debug(fmt.Sprintf("* A error occurred removing '%s' to be safe.", path))
		fi, err := fs.Stat(path)
		if os.IsNotExist(err) {
			return
		}
		if err == nil && !fi.IsDir() {
			log.Warn("not removing, it is not a directory", "path", path)
			return
		}
		if err := fs.RemoveAll(path); err != nil {
			log.Warn("cleanup failed", "path", path, "err", err)
		}
	}
}
