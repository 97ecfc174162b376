// Package fetch downloads and unpacks dependency source archives.
package fetch

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"

	"github.com/goplus/extdep/internal/archive"
	"github.com/goplus/extdep/internal/logger"
)

type config struct {
	fs     afero.Fs
	log    logger.Logger
	client *resty.Client
	unpack func(src, dst string) error
	now    func() time.Time
}

// Option configures a Downloader or an Unpacker.
type Option func(*config)

func WithFs(fs afero.Fs) Option {
	return func(c *config) { c.fs = fs }
}

func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithClient sets the HTTP client used for downloads.
func WithClient(client *resty.Client) Option {
	return func(c *config) { c.client = client }
}

// WithUnpack replaces the archive extraction used by an Unpacker.
func WithUnpack(unpack func(src, dst string) error) Option {
	return func(c *config) { c.unpack = unpack }
}

func newConfig(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	if c.client == nil {
		c.client = resty.New().SetHeader("User-Agent", "extdep")
	}
	if c.unpack == nil {
		c.unpack = archive.Unpack
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}
