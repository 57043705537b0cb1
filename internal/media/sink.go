// Package media persists the photo/video payloads dialects extract from
// classified frames, enforcing a bounded per-receiver retention window.
//
// Grounded on original_source/utils/media_logger.py (ensure dir, mtime-LRU
// cleanup, base64/URL/binary savers returning a sentinel error string
// instead of raising) and on this repo's context-aware HTTP client usage
// for URL-fetched media.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cms-emu/receiver/internal/httpclient"
)

// mediaFetchPolicy retries a flaky CDN a couple of times before giving up on
// one photo/video link; adapted from httpclient.DefaultRetryPolicy, which
// this domain has no streaming provider left to serve.
var mediaFetchPolicy = httpclient.RetryPolicy{
	MaxRetries: 2,
	Retry429:   true,
	Max429Wait: 15 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 500 * time.Millisecond,
	LogHeaders: false,
}

// DefaultMaxFiles is the retention cap applied when a Sink is built with
// maxFiles <= 0.
const DefaultMaxFiles = 25

// Sink saves media payloads under <root>/<receiver>/ and enforces a
// per-directory file count cap, evicting the oldest files by mtime.
type Sink struct {
	root     string
	receiver string
	maxFiles int
	client   *http.Client
	seq      func() int
}

// New returns a Sink rooted at filepath.Join(root, receiver).
func New(root, receiver string, maxFiles int) *Sink {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	client := httpclient.Default()
	client.Timeout = 10 * time.Second
	return &Sink{
		root:     root,
		receiver: receiver,
		maxFiles: maxFiles,
		client:   client,
		seq:      sequenceCounter(),
	}
}

func sequenceCounter() func() int {
	n := 0
	return func() int {
		n++
		return n
	}
}

func (s *Sink) dir() string {
	return filepath.Join(s.root, s.receiver)
}

func (s *Sink) ensureDir() error {
	return os.MkdirAll(s.dir(), 0o755)
}

// filename builds photo_<sequence>_<ts>.<ext>. key is the classified
// message's naming token (event code, optionally suffixed with a Manitou
// RawNo/FrameNo pair); when the caller has no such token, the sink's own
// auto-increment counter stands in for it so files stay distinguishable.
func (s *Sink) filename(ext, key string) string {
	if ext == "" {
		ext = "bin"
	}
	seq := key
	if seq == "" {
		seq = fmt.Sprintf("%d", s.seq())
	}
	ts := time.Now().Format("20060102_150405.000000")
	return fmt.Sprintf("photo_%s_%s.%s", seq, ts, strings.TrimPrefix(ext, "."))
}

// SaveBase64 decodes and writes an inline base64 payload. On any failure it
// returns an error rather than the original's sentinel string, since Go
// callers check errors explicitly. key names the file per the classified
// message (see filename).
func (s *Sink) SaveBase64(data, ext, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("media: decode base64: %w", err)
	}
	return s.write(raw, ext, key)
}

// SaveBinary writes a raw payload already in bytes (Manitou Binary frames).
// key should carry that frame's RawNo+FrameNo so sibling frames of the same
// Signal land in distinct files.
func (s *Sink) SaveBinary(data []byte, ext, key string) (string, error) {
	return s.write(data, ext, key)
}

// SaveURL fetches a media URL and persists its body.
func (s *Sink) SaveURL(ctx context.Context, rawURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: build request: %w", err)
	}
	resp, err := httpclient.DoWithRetry(ctx, s.client, req, mediaFetchPolicy)
	if err != nil {
		return "", fmt.Errorf("media: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", fmt.Errorf("media: read body of %s: %w", rawURL, err)
	}
	return s.write(body, extFromURL(rawURL), key)
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	return strings.TrimPrefix(ext, ".")
}

func (s *Sink) write(data []byte, ext, key string) (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}
	name := s.filename(ext, key)
	full := filepath.Join(s.dir(), name)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", full, err)
	}
	s.evictOldest()
	return full, nil
}

// evictOldest deletes the oldest files in the sink's directory until the
// file count is at or below maxFiles.
func (s *Sink) evictOldest() {
	entries, err := os.ReadDir(s.dir())
	if err != nil || len(entries) <= s.maxFiles {
		return
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{filepath.Join(s.dir(), e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	excess := len(files) - s.maxFiles
	for i := 0; i < excess; i++ {
		os.Remove(files[i].path)
	}
}
