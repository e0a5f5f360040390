package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/whiskeygoggles/goggles/internal/apperr"
)

// DownloadProgress reports bytes received for one asset. Total is only
// meaningful when TotalKnown is set; servers that stream without a length
// leave it unknown rather than zero.
type DownloadProgress struct {
	Asset      Key
	Loaded     int64
	Total      int64
	TotalKnown bool
	Done       bool
}

// Percent returns the completed percentage, or -1 when the total is unknown.
func (p DownloadProgress) Percent() float64 {
	if !p.TotalKnown || p.Total <= 0 {
		if p.Done {
			return 100
		}
		return -1
	}
	return float64(p.Loaded) / float64(p.Total) * 100
}

// ProgressFunc receives download progress. A nil ProgressFunc is allowed.
type ProgressFunc func(DownloadProgress)

// Fetcher retrieves the full body of an asset.
type Fetcher interface {
	Fetch(ctx context.Context, a Asset, onProgress ProgressFunc) ([]byte, error)
}

// HTTPFetcher downloads assets from the fixed endpoint paths under a base URL.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPFetcher builds a fetcher for baseURL. A zero timeout disables the
// per-asset deadline; a nil client uses http.DefaultClient.
func NewHTTPFetcher(baseURL string, client *http.Client, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

// URL returns the endpoint an asset is fetched from.
func (f *HTTPFetcher) URL(a Asset) string {
	return f.baseURL + a.Path()
}

// Fetch streams the asset body, reporting progress per read.
func (f *HTTPFetcher) Fetch(ctx context.Context, a Asset, onProgress ProgressFunc) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(a), nil)
	if err != nil {
		return nil, apperr.DownloadFailed(string(a.Key), 0, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.DownloadFailed(string(a.Key), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperr.DownloadFailed(string(a.Key), resp.StatusCode,
			fmt.Errorf("failed to download %s (status: %d)", a.FileName, resp.StatusCode))
	}

	progress := DownloadProgress{Asset: a.Key, Total: resp.ContentLength, TotalKnown: resp.ContentLength >= 0}
	if !progress.TotalKnown {
		progress.Total = 0
	}

	var buf bytes.Buffer
	if progress.TotalKnown {
		buf.Grow(preallocSize(progress.Total))
	}
	reader := &progressReader{r: resp.Body, progress: progress, onProgress: onProgress}
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, apperr.DownloadFailed(string(a.Key), resp.StatusCode, err)
	}
	if progress.TotalKnown && int64(buf.Len()) != progress.Total {
		return nil, apperr.DownloadFailed(string(a.Key), resp.StatusCode,
			fmt.Errorf("short body: got %d of %d bytes", buf.Len(), progress.Total))
	}

	reader.progress.Done = true
	reader.emit()
	return buf.Bytes(), nil
}

// maxPrealloc bounds how much of an advertised Content-Length is reserved
// up front; larger bodies grow the buffer as bytes arrive.
const maxPrealloc = 64 << 20

func preallocSize(total int64) int {
	if total <= 0 {
		return 0
	}
	if total > maxPrealloc {
		return maxPrealloc
	}
	return int(total)
}

type progressReader struct {
	r          io.Reader
	progress   DownloadProgress
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.progress.Loaded += int64(n)
		p.emit()
	}
	return n, err
}

func (p *progressReader) emit() {
	if p.onProgress != nil {
		p.onProgress(p.progress)
	}
}
