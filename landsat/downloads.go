package landsat

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

// ObjectStore is the blob-storage slice the scene downloader needs for
// s3-scheme links. *scene_task_registry.SceneTaskRegistry satisfies it.
type ObjectStore interface {
	DownloadFileFromS3(ctx context.Context, s3Bucket, s3Path, destination string) error
}

// SceneDownloader routes a scene link by scheme: s3:// links are fetched from
// blob storage, everything else goes over HTTP. Providers hand out both kinds
// of links in their scene metadata.
type SceneDownloader struct {
	HTTP    *HTTPDownloader
	Objects ObjectStore
}

func (d *SceneDownloader) Download(ctx context.Context, link, destDir string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid download link %q, %w", link, err)
	}
	if u.Scheme != "s3" {
		return d.HTTP.Download(ctx, link, destDir)
	}

	key := strings.TrimPrefix(u.Path, "/")
	filename := path.Base(key)
	if filename == "." || filename == "/" || filename == "" {
		return "", fmt.Errorf("download link %q does not name an object", link)
	}

	dest := filepath.Join(destDir, filename)
	if err := d.Objects.DownloadFileFromS3(ctx, u.Host, key, dest); err != nil {
		return "", err
	}

	if d.HTTP != nil && d.HTTP.ExtractArchives {
		if err := d.HTTP.maybeExtract(dest, destDir); err != nil {
			return "", err
		}
	}
	return dest, nil
}

// HTTPDownloader fetches scene archives over HTTP. When ExtractArchives is
// set, 7z archives are unpacked next to the downloaded file; the archive
// itself is kept as the collection item's compressed file.
type HTTPDownloader struct {
	Client          *http.Client
	ExtractArchives bool
}

func (d *HTTPDownloader) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *HTTPDownloader) Download(ctx context.Context, link, destDir string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid download link %q, %w", link, err)
	}
	filename := path.Base(u.Path)
	if filename == "." || filename == "/" || filename == "" {
		return "", fmt.Errorf("download link %q does not name a file", link)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("unable to build download request for %q, %w", link, err)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("download of %q failed, %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of %q failed with HTTP status %d", link, resp.StatusCode)
	}

	// Overwrite any partial file from a previous attempt.
	dest := filepath.Join(destDir, filename)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("unable to create %q, %w", dest, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("unable to write %q, %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("unable to close %q, %w", dest, err)
	}

	if d.ExtractArchives {
		if err := d.maybeExtract(dest, destDir); err != nil {
			return "", err
		}
	}

	return dest, nil
}

func (d *HTTPDownloader) maybeExtract(archive, destDir string) error {
	is7z, err := registry.Is7z(archive)
	if err != nil {
		return fmt.Errorf("unable to probe %q, %w", archive, err)
	}
	if !is7z {
		return nil
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive)))
	if err := registry.Extract7z(archive, extractDir); err != nil {
		return fmt.Errorf("unable to extract scene archive %q, %w", archive, err)
	}
	log.Println("Extracted scene archive", archive, "into", extractDir)
	return nil
}
