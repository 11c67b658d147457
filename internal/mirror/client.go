// Package mirror copies the directories shared by a remote instance to the
// local disk. A remote instance publishes a JSON manifest of linked path
// names at its root and a browsable listing under each name; the client
// walks those listings and downloads every file.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// ErrRemote is returned when a remote instance answers with something other
// than what an instance serves.
var ErrRemote = errors.New("unexpected response from remote instance")

// maxManifestBytes bounds the manifest body
const maxManifestBytes = 1 << 20

// Client talks to remote instances.
type Client struct {
	http        *http.Client
	filter      *Filter
	concurrency int
	logger      *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a mirror client.
func NewClient(cfg config.MirrorConfig, logger *zap.Logger, opts ...Option) *Client {
	logger = logger.Named("mirror")
	c := &Client{
		http:        &http.Client{Timeout: cfg.Timeout()},
		filter:      NewFilter(cfg.Filter, logger),
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary describes a completed FetchTree.
type Summary struct {
	Directories int   `json:"directories"`
	Files       int   `json:"files"`
	Bytes       int64 `json:"bytes"`
}

// entry is one item found while walking a remote listing
type entry struct {
	url   *url.URL
	local string
}

// FetchManifest returns the linked path names a remote instance serves.
func (c *Client) FetchManifest(ctx context.Context, baseURL string) ([]string, error) {
	base, err := c.baseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return c.fetchManifest(ctx, base)
}

func (c *Client) fetchManifest(ctx context.Context, base *url.URL) ([]string, error) {
	resp, err := c.get(ctx, base)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var names []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&names); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrRemote, err)
	}
	for _, name := range names {
		if !safeName(name) {
			return nil, fmt.Errorf("%w: invalid linked path name %q", ErrRemote, name)
		}
	}
	return names, nil
}

// FetchTree mirrors every linked path of the remote instance at baseURL into
// localPath/<name>. Directories are created before any file is written. The
// first failure aborts the whole fetch; files are written under a temporary
// name and renamed into place, so no partial file is left behind.
func (c *Client) FetchTree(ctx context.Context, baseURL, localPath string) (*Summary, error) {
	base, err := c.baseURL(baseURL)
	if err != nil {
		return nil, err
	}

	names, err := c.fetchManifest(ctx, base)
	if err != nil {
		return nil, err
	}

	var dirs, files []entry
	for _, name := range names {
		root := entry{url: dirURL(base, name), local: filepath.Join(localPath, name)}
		d, f, err := c.walk(ctx, root)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, root)
		dirs = append(dirs, d...)
		files = append(files, f...)
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d.local, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, f := range files {
		g.Go(func() error {
			n, err := c.download(gctx, f)
			if err != nil {
				return err
			}
			total.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Directories: len(dirs), Files: len(files), Bytes: total.Load()}
	c.logger.Info("Mirrored remote instance",
		zap.String("url", base.String()),
		zap.String("local_path", localPath),
		zap.Int("directories", summary.Directories),
		zap.Int("files", summary.Files),
		zap.String("size", humanize.Bytes(uint64(summary.Bytes))),
	)
	return summary, nil
}

// walk lists dir recursively and returns the sub-directories and files below it.
func (c *Client) walk(ctx context.Context, dir entry) (dirs, files []entry, err error) {
	queue := []entry{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := c.list(ctx, current)
		if err != nil {
			return nil, nil, err
		}
		for _, child := range children {
			if strings.HasSuffix(child.url.Path, "/") {
				dirs = append(dirs, child)
				queue = append(queue, child)
			} else {
				files = append(files, child)
			}
		}
	}
	return dirs, files, nil
}

// list parses one directory listing page.
func (c *Client) list(ctx context.Context, dir entry) ([]entry, error) {
	resp, err := c.get(ctx, dir.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse listing %s: %v", ErrRemote, dir.url, err)
	}

	var children []entry
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		name, isDir, ok := parseHref(href)
		if !ok {
			c.logger.Debug("Skipping link outside listing", zap.String("href", href))
			return
		}
		elem := url.PathEscape(name)
		if isDir {
			elem += "/"
		}
		u := dir.url.JoinPath(elem)
		children = append(children, entry{url: u, local: filepath.Join(dir.local, name)})
	})
	return children, nil
}

// download writes one remote file to its local path.
func (c *Client) download(ctx context.Context, f entry) (int64, error) {
	resp, err := c.get(ctx, f.url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(f.local), "."+filepath.Base(f.local)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to download %s: %w", f.url, err)
	}
	if err := os.Rename(tmpName, f.local); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move %s into place: %w", f.local, err)
	}

	c.logger.Debug("Downloaded file",
		zap.String("path", f.local),
		zap.String("size", humanize.Bytes(uint64(n))),
	)
	return n, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrRemote, u, resp.StatusCode)
	}
	return resp, nil
}

// baseURL validates rawURL and normalizes it to end in "/".
func (c *Client) baseURL(rawURL string) (*url.URL, error) {
	if err := c.filter.Check(rawURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		u.RawPath = ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func dirURL(base *url.URL, name string) *url.URL {
	return base.JoinPath(url.PathEscape(name) + "/")
}

// parseHref accepts only links to direct children of the listed directory.
func parseHref(href string) (name string, isDir bool, ok bool) {
	u, err := url.Parse(href)
	if err != nil || u.IsAbs() || u.Host != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", false, false
	}
	p := strings.TrimPrefix(u.Path, "./")
	isDir = strings.HasSuffix(p, "/")
	name = strings.TrimSuffix(p, "/")
	if !safeName(name) {
		return "", false, false
	}
	return name, isDir, true
}

// safeName reports whether name is a single path element.
func safeName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
