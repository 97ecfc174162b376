// Package archive unpacks downloaded source archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	cp "github.com/otiai10/copy"
	"github.com/ulikunitz/xz"
)

// Format is a supported archive format.
type Format string

const (
	Unknown Format = ""
	Zip     Format = "zip"
	Tar     Format = "tar"
	TarGz   Format = "tar.gz"
	TarBz2  Format = "tar.bz2"
	TarXz   Format = "tar.xz"
)

// ErrUnsupportedFormat is returned for files that are not a known archive.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrIllegalPath is returned for entries that would be written outside the
// destination directory.
var ErrIllegalPath = errors.New("archive entry escapes the destination")

// Detect returns the archive format of the file at path, sniffing its
// content first and falling back to the file name.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unknown, err
	}
	head = head[:n]

	if kind, _ := filetype.Match(head); kind != filetype.Unknown {
		switch kind {
		case matchers.TypeZip:
			return Zip, nil
		case matchers.TypeTar:
			return Tar, nil
		case matchers.TypeGz:
			return TarGz, nil
		case matchers.TypeBz2:
			return TarBz2, nil
		case matchers.TypeXz:
			return TarXz, nil
		}
	}
	switch mt := mimetype.Detect(head); {
	case mt.Is("application/zip"):
		return Zip, nil
	case mt.Is("application/x-tar"):
		return Tar, nil
	case mt.Is("application/gzip"):
		return TarGz, nil
	case mt.Is("application/x-bzip2"):
		return TarBz2, nil
	case mt.Is("application/x-xz"):
		return TarXz, nil
	}
	return fromName(path), nil
}

func fromName(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return Zip
	case strings.HasSuffix(name, ".tar"):
		return Tar
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TarGz
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return TarBz2
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return TarXz
	}
	return Unknown
}

// Unpack extracts the archive src to the directory dst. When the archive
// holds a single top level directory, that directory becomes dst.
// Extraction happens next to dst first, so dst is never left half
// written.
func Unpack(src, dst string) error {
	format, err := Detect(src)
	if err != nil {
		return err
	}
	if format == Unknown {
		return fmt.Errorf("%s: %w", src, ErrUnsupportedFormat)
	}

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, ".unpack-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if format == Zip {
		err = unzip(src, tmp)
	} else {
		err = untarFile(src, tmp, format)
	}
	if err != nil {
		return fmt.Errorf("unpack %s: %w", src, err)
	}

	root, err := singleDir(tmp)
	if err != nil {
		return err
	}
	return move(root, dst)
}

// singleDir returns the only entry of dir if it is a directory, else dir.
func singleDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func move(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	if err := cp.Copy(from, to, cp.Options{PreserveTimes: true}); err != nil {
		os.RemoveAll(to)
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return os.RemoveAll(from)
}

// safeJoin joins name to root and rejects results outside root.
func safeJoin(root, name string) (string, error) {
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return p, nil
}

func unzip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return fmt.Errorf("%w: %v", ErrIllegalPath, err)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(dst, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untarFile(src, dst string, format Format) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch format {
	case TarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case TarBz2:
		r = bzip2.NewReader(r)
	case TarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return err
		}
		r = xr
	}
	return untar(r, dst)
}

func untar(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrIllegalPath, hdr.Name)
		}
		if err != nil {
			return err
		}
		// pax_global_header and friends
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		target, err := safeJoin(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			link := filepath.Join(filepath.Dir(target), filepath.FromSlash(hdr.Linkname))
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalPath, hdr.Name, hdr.Linkname)
			}
			if _, err := safeJoin(dst, mustRel(dst, link)); err != nil {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalPath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			old, err := safeJoin(dst, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(old, target); err != nil {
				return err
			}
		}
	}
}

func mustRel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
