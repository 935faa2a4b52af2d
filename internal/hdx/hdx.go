// Package hdx downloads the global pcode dataset from the Humanitarian Data
// Exchange, a CKAN catalog.
//
// The dataset is located with package_search; the last resource (across all
// results) whose name contains the configured resource name wins. The file is
// streamed to a temp file next to the destination and renamed into place.
package hdx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/logging"
)

const searchPath = "/api/3/action/package_search"

// Resource is a downloadable file attached to a CKAN package.
type Resource struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Package string `json:"-"`
}

// Download describes a completed dataset download.
type Download struct {
	Resource Resource
	Path     string
	Bytes    int64
}

type searchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int `json:"count"`
		Results []struct {
			Name      string     `json:"name"`
			Resources []Resource `json:"resources"`
		} `json:"results"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to a CKAN catalog.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient returns a catalog client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.DatasetConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		userAgent: cfg.UserAgent,
		http:      httpClient,
	}
}

// FindResource searches the catalog for query and returns the last resource
// whose name contains resourceName. It returns an error wrapping
// core.ErrDatasetNotFound when nothing matches.
func (c *Client) FindResource(ctx context.Context, query, resourceName string) (Resource, error) {
	u := c.baseURL + searchPath + "?" + url.Values{"q": {query}}.Encode()

	resp, err := c.get(ctx, u)
	if err != nil {
		return Resource{}, fmt.Errorf("hdx search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBody+1))
		return Resource{}, fmt.Errorf("hdx search: status %d: %s", resp.StatusCode, core.TruncateBody(body))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Resource{}, fmt.Errorf("hdx search: decoding response: %w", err)
	}
	if !sr.Success {
		msg := "success=false"
		if sr.Error != nil && sr.Error.Message != "" {
			msg = sr.Error.Message
		}
		return Resource{}, fmt.Errorf("%w: query %q: %s", core.ErrDatasetNotFound, query, msg)
	}

	var found Resource
	ok := false
	for _, pkg := range sr.Result.Results {
		for _, res := range pkg.Resources {
			if strings.Contains(res.Name, resourceName) && res.URL != "" {
				found = res
				found.Package = pkg.Name
				ok = true
			}
		}
	}
	if !ok {
		return Resource{}, fmt.Errorf("%w: no resource named %q in %d result(s) for query %q",
			core.ErrDatasetNotFound, resourceName, len(sr.Result.Results), query)
	}
	return found, nil
}

// Download locates the dataset and writes it to destPath atomically.
func (c *Client) Download(ctx context.Context, query, resourceName, destPath string) (Download, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	res, err := c.FindResource(ctx, query, resourceName)
	if err != nil {
		return Download{}, err
	}
	logger.Debug("dataset resource found", "package", res.Package, "resource", res.Name, "url", res.URL)

	resp, err := c.get(ctx, res.URL)
	if err != nil {
		return Download{}, fmt.Errorf("hdx download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBody+1))
		return Download{}, fmt.Errorf("hdx download %s: status %d: %s", res.URL, resp.StatusCode, core.TruncateBody(body))
	}

	counter := core.NewCountingReader(resp.Body)
	if err := writeAtomic(destPath, counter); err != nil {
		return Download{}, fmt.Errorf("hdx download: %w", err)
	}

	logger.Info("dataset downloaded",
		"resource", res.Name,
		"path", destPath,
		"bytes", counter.BytesRead,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Download{Resource: res, Path: destPath, Bytes: counter.BytesRead}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// writeAtomic streams r into a temp file beside path, then renames it.
func writeAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
