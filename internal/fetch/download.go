package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/goplus/extdep/internal/fsutil"
	"github.com/goplus/extdep/internal/logger"
)

// TransferError reports a failed download.
type TransferError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Downloader fetches archives over HTTP.
type Downloader struct {
	*config
}

func NewDownloader(opts ...Option) *Downloader {
	return &Downloader{config: newConfig(opts)}
}

// DownloadFromURL saves url to the file dst unless dst already exists. It
// reports whether a download took place. A failed transfer leaves
// whatever was written in dst.
func (d *Downloader) DownloadFromURL(ctx context.Context, url, dst string) (bool, error) {
	if fsutil.IsFile(d.fs, dst) {
		d.log.Debug(fmt.Sprintf("Downloaded archive found at '%s', skipping download.", dst))
		return false, nil
	}

	d.log.Info(fmt.Sprintf("Downloading '%s' to '%s'", url, dst))
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return false, &TransferError{URL: url, Err: err}
	}
	body := resp.RawBody()
	defer body.Close()
	if !resp.IsSuccess() {
		return false, &TransferError{URL: url, StatusCode: resp.StatusCode()}
	}

	if err := fsutil.CreateDirectory(d.fs, filepath.Dir(dst)); err != nil {
		return false, err
	}
	out, err := d.fs.Create(dst)
	if err != nil {
		return false, err
	}
	defer out.Close()

	var total int64 = -1
	if resp.RawResponse != nil {
		total = resp.RawResponse.ContentLength
	}
	pr := &progressReader{
		r:     body,
		name:  filepath.Base(dst),
		total: total,
		start: d.now(),
		now:   d.now,
		log:   d.log,
		last:  -1,
	}
	if _, err := io.Copy(out, pr); err != nil {
		return false, &TransferError{URL: url, Err: err}
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// progressReader reports progress each time the integer percentage of a
// download of known size advances.
type progressReader struct {
	r     io.Reader
	name  string
	total int64
	read  int64
	start time.Time
	now   func() time.Time
	log   logger.Logger
	last  int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return
	}
	p.last = pct

	duration := p.now().Sub(p.start).Seconds()
	speed := 0
	if duration > 0 {
		speed = int(float64(p.read) / (1024 * duration))
	}
	p.log.Info(fmt.Sprintf("* %s: %3d%% of %.2f MB, %d KB/s, %.2f seconds passed.",
		p.name, pct, float64(p.total)/(1024*1024), speed, duration))
}
