//go:build !unix

package toolfinder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com":
		return nil
	}
	return fmt.Errorf("%s is not executable", path)
}
