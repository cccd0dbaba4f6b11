// Package assets downloads third-party files the build needs once, such as
// test framework scripts and type declarations.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/logfields"
	"github.com/deixis/kiln/internal/retry"
)

// MaxAssetBytes bounds a single download.
const MaxAssetBytes = 32 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Fetcher downloads assets to local paths, skipping those already present.
type Fetcher struct {
	Client   *http.Client
	Policy   retry.Policy
	Progress io.Writer // receives "Downloading <url> ... Done!"; os.Stdout if nil
	Logger   *zerolog.Logger
}

// NewHTTPClient creates an HTTP client with safe defaults.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// Fetch downloads rawURL to dest unless dest already exists. It reports
// whether a download took place. The file is written to a temporary name
// next to dest and renamed into place, so an interrupted download never
// leaves a partial dest behind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", dest, err)
	}
	if err := validateURL(rawURL); err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}

	log := f.logger().With().Str(logfields.KeyURL, rawURL).Str(logfields.KeyPath, dest).Logger()
	progress := f.progress()
	fmt.Fprintf(progress, "Downloading %s ...", rawURL)

	policy := f.Policy
	if policy.Validate() != nil {
		policy = retry.DefaultPolicy()
	}
	err := policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt).Msg("retrying download")
		}
		err := f.download(ctx, rawURL, dest)
		if err != nil && !transient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		fmt.Fprintln(progress, " Failed!")
		return false, err
	}
	fmt.Fprintln(progress, " Done!")
	log.Debug().Msg("asset downloaded")
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxAssetBytes+1))
	if err != nil {
		return fmt.Errorf("fetch %s: reading body: %w", rawURL, err)
	}
	if n > MaxAssetBytes {
		return fmt.Errorf("fetch %s: response larger than %d bytes", rawURL, MaxAssetBytes)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("renaming into %s: %w", dest, err)
	}
	committed = true
	return nil
}

// transient reports whether a download error is worth retrying: transport
// failures, body read failures, 5xx and 429 are; everything else is not.
func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *os.PathError
	if errors.As(err, &oe) {
		return false
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q", parsed.Scheme)
	}
	return nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return NewHTTPClient()
}

func (f *Fetcher) progress() io.Writer {
	if f.Progress != nil {
		return f.Progress
	}
	return os.Stdout
}

func (f *Fetcher) logger() *zerolog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
