package fetch

import (
	"fmt"

	"github.com/goplus/extdep/internal/fsutil"
)

// Unpacker extracts downloaded archives.
type Unpacker struct {
	*config
}

func NewUnpacker(opts ...Option) *Unpacker {
	return &Unpacker{config: newConfig(opts)}
}

// RunUnpack extracts src into the directory dst unless dst already
// exists. It reports whether anything was unpacked.
func (u *Unpacker) RunUnpack(src, dst string) (bool, error) {
	if fsutil.Exists(u.fs, dst) {
		u.log.Debug(fmt.Sprintf("Unpacked directory found at '%s', skipping unpack.", dst))
		return false, nil
	}
	u.log.Debug(fmt.Sprintf("* Unpacking archive '%s' to '%s'", src, dst))
	if err := u.unpack(src, dst); err != nil {
		return false, err
	}
	return true, nil
}
