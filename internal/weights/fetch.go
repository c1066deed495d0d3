package weights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"prunejuice/internal/common/fsutil"
)

// ErrChecksum reports a downloaded or existing file whose SHA-256 differs
// from the manifest.
var ErrChecksum = errors.New("weights: checksum mismatch")

// ErrIncomplete reports a download shorter than the advertised length.
var ErrIncomplete = errors.New("weights: incomplete download")

// Result describes the outcome of one Fetch.
type Result struct {
	Entry   Entry
	Path    string
	Skipped bool
	Bytes   int64
}

// Fetcher downloads manifest entries into Dir.
type Fetcher struct {
	Dir string
	// Token is sent as a bearer token (gated repositories).
	Token  string
	client *retryablehttp.Client
}

// NewFetcher returns a Fetcher with a retrying HTTP client.
func NewFetcher(dir string, retryMax int) *Fetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Warn().Str("url", req.URL.String()).Int("attempt", attempt).Msg("weights: retrying download")
		}
	}
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if resp == nil {
			return true, err
		}
		// don't retry client errors (missing file, gated repo)
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, nil
	}
	return &Fetcher{Dir: dir, client: c}
}

// FetchAll fetches every required entry, stopping at the first failure.
func (f *Fetcher) FetchAll(ctx context.Context, m Manifest) ([]Result, error) {
	var out []Result
	for _, e := range m {
		if !e.Required {
			continue
		}
		r, err := f.Fetch(ctx, e)
		if err != nil {
			return out, fmt.Errorf("%s: %w", e.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Fetch downloads e unless a valid copy already exists. The file appears at
// its final path only after it is complete and verified.
func (f *Fetcher) Fetch(ctx context.Context, e Entry) (Result, error) {
	dir, err := fsutil.ExpandHome(f.Dir)
	if err != nil {
		return Result{}, err
	}
	dst := filepath.Join(dir, e.Filename)
	res := Result{Entry: e, Path: dst}

	if fsutil.PathExists(dst) {
		ok, err := VerifyFile(dst, e.SHA256)
		if err == nil && ok {
			log.Info().Str("file", e.Filename).Msg("weights: already present and valid")
			res.Skipped = true
			return res, nil
		}
		log.Warn().Str("file", e.Filename).Err(err).Msg("weights: existing file failed verification, downloading again")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return res, fmt.Errorf("create request: %w", err)
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	log.Info().Str("file", e.Filename).Str("url", e.URL).Msg("weights: downloading")
	resp, err := f.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(dir, "."+e.Filename+".*.part")
	if err != nil {
		return res, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, fmt.Errorf("download: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return res, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, n, resp.ContentLength)
	}
	if e.Verifiable() {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, e.SHA256) {
			return res, fmt.Errorf("%w: %s: got %s", ErrChecksum, e.Filename, got)
		}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return res, fmt.Errorf("rename: %w", err)
	}
	res.Bytes = n
	downloadedBytes.Add(float64(n))
	log.Info().Str("file", e.Filename).Str("size", humanize.Bytes(uint64(n))).Msg("weights: downloaded")
	return res, nil
}

// VerifyFile reports whether the file at path matches the SHA-256 hex digest.
// Placeholder or empty digests are not checked.
func VerifyFile(path, sha string) (bool, error) {
	if sha == "" || strings.HasPrefix(sha, "placeholder") {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, sha) {
		return false, fmt.Errorf("%w: %s", ErrChecksum, filepath.Base(path))
	}
	return true, nil
}
