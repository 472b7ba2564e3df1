package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnsupportedType = errors.New("unsupported media content type")
	ErrTooLarge        = errors.New("media exceeds size limit")
)

type Options struct {
	Timeout     time.Duration
	MaxBytes    int64
	Concurrency int
}

// Preloader fetches media references ahead of display. Each attempt settles
// exactly once, with nil on success or an error on failure.
type Preloader struct {
	http   *http.Client
	opts   Options
	logger *logrus.Logger
}

func NewPreloader(httpClient *http.Client, opts Options, logger *logrus.Logger) *Preloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Preloader{http: httpClient, opts: opts, logger: logger}
}

func (p *Preloader) Preload(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build media request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	if !acceptedType(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, resp.Header.Get("Content-Type"))
	}

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.opts.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}
	if n > p.opts.MaxBytes {
		return ErrTooLarge
	}
	return nil
}

// Item identifies one preload attempt.
type Item struct {
	ID  int64
	URL string
}

// PreloadAll runs every attempt and returns once all of them have settled.
// done is called exactly once per item, possibly from several goroutines.
func (p *Preloader) PreloadAll(ctx context.Context, items []Item, done func(id int64, err error)) {
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for _, it := range items {
		it := it
		g.Go(func() error {
			err := p.Preload(ctx, it.URL)
			if err != nil {
				p.logger.WithFields(logrus.Fields{
					"message_id": it.ID,
					"url":        it.URL,
				}).WithError(err).Debug("media preload failed")
			}
			done(it.ID, err)
			return nil
		})
	}
	_ = g.Wait()
}

func acceptedType(header string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/"):
		return true
	case mt == "application/octet-stream":
		return true
	default:
		return false
	}
}
