// Package fetcher stages assessment inputs named by a local path or a
// http(s):// or ftp:// URL into a working directory, unpacking ZIP archives.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Downloader copies one remote file to a local path.
type Downloader interface {
	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures remote staging.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSec limits HTTP requests per host; 0 disables limiting.
	RatePerSec float64
}

// Stager resolves input URIs to local files. Remote files are downloaded
// once per working directory and reused afterwards.
type Stager struct {
	http  Downloader
	ftp   Downloader
	group singleflight.Group
}

// New returns a Stager using the HTTP and FTP fetchers.
func New(opts Options) *Stager {
	return NewStager(
		NewHTTPFetcher(HTTPOptions{UserAgent: opts.UserAgent, Timeout: opts.Timeout, MaxRetries: opts.MaxRetries, RatePerSec: opts.RatePerSec}),
		NewFTPFetcher(FTPOptions{Timeout: opts.Timeout, MaxRetries: opts.MaxRetries}),
	)
}

// NewStager returns a Stager using the given downloaders. A nil downloader
// disables its schemes.
func NewStager(httpDL, ftpDL Downloader) *Stager {
	return &Stager{http: httpDL, ftp: ftpDL}
}

// Stage returns a local path for uri, downloading remote files into dir.
// A ".zip" input is extracted and the dataset inside located: a shapefile,
// GeoTIFF, ASCII grid or GeoJSON file. A "#member" suffix names the archive
// member when there is more than one.
func (s *Stager) Stage(ctx context.Context, uri, dir string) (string, error) {
	uri, member := splitMember(uri)

	local, err := s.resolve(ctx, uri, dir)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		if member != "" {
			return "", eris.Errorf("fetch: %s is not an archive, cannot select %q", uri, member)
		}
		return local, nil
	}

	dest := filepath.Join(dir, "extracted", cacheKey(local)+"-"+strings.TrimSuffix(filepath.Base(local), filepath.Ext(local)))
	v, err, _ := s.group.Do("zip:"+dest, func() (any, error) {
		return extractOnce(local, dest)
	})
	if err != nil {
		return "", err
	}
	files := v.([]string)

	if member != "" {
		p := filepath.Join(dest, filepath.FromSlash(member))
		if _, err := os.Stat(p); err != nil {
			return "", eris.Wrapf(err, "fetch: %s has no member %q", uri, member)
		}
		return p, nil
	}
	p, err := locateDataset(files)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: %s", uri)
	}
	return p, nil
}

// resolve returns the local path of uri, downloading it when remote.
func (s *Stager) resolve(ctx context.Context, uri, dir string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		// Plain paths, including Windows drive letters.
		return localPath(uri)
	}

	var dl Downloader
	switch strings.ToLower(u.Scheme) {
	case "file":
		return localPath(u.Path)
	case "http", "https":
		dl = s.http
	case "ftp":
		dl = s.ftp
	default:
		return "", eris.Errorf("fetch: unsupported scheme %q in %s", u.Scheme, uri)
	}
	if dl == nil {
		return "", eris.Errorf("fetch: no downloader for scheme %q", u.Scheme)
	}

	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return "", eris.Errorf("fetch: %s does not name a file", uri)
	}
	parent := *u
	parent.Path = path.Dir(u.Path)
	parent.RawQuery, parent.Fragment = "", ""
	destDir := filepath.Join(dir, "downloads", cacheKey(parent.String()))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetch: create download directory")
	}

	dest := filepath.Join(destDir, base)
	if _, err := s.fetchOnce(ctx, dl, uri, dest); err != nil {
		return "", err
	}

	required, optional := sidecars(filepath.Ext(base))
	g, gctx := errgroup.WithContext(ctx)
	for _, ext := range required {
		g.Go(func() error {
			_, err := s.fetchOnce(gctx, dl, siblingURL(u, ext), swapExt(dest, ext))
			return err
		})
	}
	for _, ext := range optional {
		g.Go(func() error {
			if _, err := s.fetchOnce(gctx, dl, siblingURL(u, ext), swapExt(dest, ext)); err != nil {
				zap.L().Debug("fetch: optional sidecar unavailable", zap.String("uri", uri), zap.String("ext", ext), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return dest, nil
}

// fetchOnce downloads uri to dest unless dest already exists. Concurrent
// calls for the same dest share one download.
func (s *Stager) fetchOnce(ctx context.Context, dl Downloader, uri, dest string) (int64, error) {
	v, err, _ := s.group.Do("dl:"+dest, func() (any, error) {
		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			zap.L().Debug("fetch: reusing staged file", zap.String("uri", uri), zap.String("path", dest))
			return fi.Size(), nil
		}

		start := time.Now()
		n, err := dl.DownloadToFile(ctx, uri, dest)
		if err != nil {
			return int64(0), eris.Wrapf(err, "fetch: download %s", uri)
		}
		zap.L().Info("fetch: downloaded",
			zap.String("uri", uri),
			zap.String("path", dest),
			zap.Int64("bytes", n),
			zap.Duration("elapsed", time.Since(start)),
		)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func localPath(p string) (string, error) {
	if _, err := os.Stat(p); err != nil {
		return "", eris.Wrapf(err, "fetch: input %s", p)
	}
	return p, nil
}

// splitMember separates a trailing "#member" from uri.
func splitMember(uri string) (string, string) {
	i := strings.LastIndex(uri, "#")
	if i < 0 {
		return uri, ""
	}
	return uri[:i], uri[i+1:]
}

// sidecars lists the companion files staged next to a remote dataset.
func sidecars(ext string) (required, optional []string) {
	switch strings.ToLower(ext) {
	case ".shp":
		return []string{".shx", ".dbf"}, []string{".prj", ".cpg"}
	case ".tif", ".tiff":
		return nil, []string{".tfw", ".prj"}
	case ".asc":
		return nil, []string{".prj"}
	}
	return nil, nil
}

func siblingURL(u *url.URL, ext string) string {
	s := *u
	s.Path = strings.TrimSuffix(u.Path, path.Ext(u.Path)) + ext
	s.Fragment = ""
	return s.String()
}

func swapExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + ext
}

func cacheKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
