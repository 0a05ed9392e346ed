package host

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	UserAgent = "dashgate"

	// maxSDKSize bounds the downloaded bundle
	maxSDKSize = 8 << 20
)

// SDKLoader downloads the Superset embedded SDK bundle once. Until a download
// succeeds every Load call tries again; there is no background retry.
type SDKLoader struct {
	url    string
	client *http.Client
	logger zerolog.Logger

	inflight singleflight.Group

	mu     sync.Mutex
	script []byte
	digest string
}

// NewSDKLoader creates a loader for the bundle at url
func NewSDKLoader(url string, logger zerolog.Logger) *SDKLoader {
	return &SDKLoader{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Loaded reports whether the bundle is available
func (l *SDKLoader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.script != nil
}

// Script returns the downloaded bundle
func (l *SDKLoader) Script() ([]byte, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.script, l.digest, l.script != nil
}

// Load downloads the bundle unless it is already loaded. Concurrent callers
// share one download; the lock is only held to publish the result.
func (l *SDKLoader) Load(ctx context.Context) error {
	if l.Loaded() {
		return nil
	}

	// The download outlives a cancelled caller so other waiters still get it
	ch := l.inflight.DoChan("sdk", func() (any, error) {
		if l.Loaded() {
			return nil, nil
		}
		return nil, l.download(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *SDKLoader) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download embedded sdk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedded sdk download failed with status %d", resp.StatusCode)
	}

	script, err := io.ReadAll(io.LimitReader(resp.Body, maxSDKSize+1))
	if err != nil {
		return fmt.Errorf("failed to read embedded sdk: %w", err)
	}
	if len(script) > maxSDKSize {
		return fmt.Errorf("embedded sdk exceeds %d bytes", maxSDKSize)
	}
	if len(script) == 0 {
		return fmt.Errorf("embedded sdk is empty")
	}
	digest := fmt.Sprintf("%x", sha256.Sum256(script))

	l.mu.Lock()
	l.script = script
	l.digest = digest
	l.mu.Unlock()

	l.logger.Info().
		Str("url", l.url).
		Int("bytes", len(script)).
		Str("sha256", digest).
		Msg("Loaded Superset embedded SDK")
	return nil
}
