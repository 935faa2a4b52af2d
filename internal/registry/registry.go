// Package registry resolves the country code map from the NDX registry extract.
//
// The extract is a CSV with at least a display name column and a country code
// column. Client downloads it with the configured token; FileSource reads a
// local copy for offline runs. Both return a core.CountryCodeMap or a
// *core.ResolutionError. There is no retry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/logging"
)

// Resolver produces the country code map for a run.
type Resolver interface {
	Resolve(ctx context.Context) (core.CountryCodeMap, error)
}

// New returns a FileSource when cfg.File is set, otherwise a Client.
func New(cfg config.RegistryConfig, httpClient *http.Client) Resolver {
	if cfg.File != "" {
		return NewFileSource(cfg.File, cfg.NameColumn, cfg.CodeColumn)
	}
	return NewClient(cfg, httpClient)
}

// Client fetches the registry extract over HTTP.
type Client struct {
	url        string
	token      string
	nameColumn string
	codeColumn string
	http       *http.Client
}

// NewClient returns a registry client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.RegistryConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:        cfg.URL,
		token:      cfg.Token,
		nameColumn: columnOrDefault(cfg.NameColumn, core.DefaultNameColumn),
		codeColumn: columnOrDefault(cfg.CodeColumn, core.DefaultCodeColumn),
		http:       httpClient,
	}
}

// Resolve downloads and parses the extract.
func (c *Client) Resolve(ctx context.Context) (core.CountryCodeMap, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return core.CountryCodeMap{}, &core.ResolutionError{Op: "fetch", Err: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.CountryCodeMap{}, &core.ResolutionError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBody+1))
		return core.CountryCodeMap{}, &core.ResolutionError{
			Op:     "fetch",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response: %s", core.TruncateBody(body)),
		}
	}

	counter := core.NewCountingReader(resp.Body)
	codes, err := core.ParseCodeMap(counter, c.nameColumn, c.codeColumn)
	if err != nil {
		return core.CountryCodeMap{}, err
	}

	logger.Info("resolved country codes",
		"source", "registry",
		"codes", codes.Len(),
		"bytes", counter.BytesRead,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return codes, nil
}

// FileSource reads the registry extract from disk.
type FileSource struct {
	path       string
	nameColumn string
	codeColumn string
}

// NewFileSource returns a resolver for a local extract.
func NewFileSource(path, nameColumn, codeColumn string) *FileSource {
	return &FileSource{
		path:       path,
		nameColumn: columnOrDefault(nameColumn, core.DefaultNameColumn),
		codeColumn: columnOrDefault(codeColumn, core.DefaultCodeColumn),
	}
}

// Resolve parses the local extract.
func (s *FileSource) Resolve(ctx context.Context) (core.CountryCodeMap, error) {
	if err := ctx.Err(); err != nil {
		return core.CountryCodeMap{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		op := "fetch"
		if errors.Is(err, os.ErrNotExist) {
			op = "open"
		}
		return core.CountryCodeMap{}, &core.ResolutionError{Op: op, Err: err}
	}
	defer f.Close()

	codes, err := core.ParseCodeMap(f, s.nameColumn, s.codeColumn)
	if err != nil {
		return core.CountryCodeMap{}, err
	}

	logging.FromContext(ctx).Info("resolved country codes",
		"source", "file",
		"path", s.path,
		"codes", codes.Len(),
	)
	return codes, nil
}

func columnOrDefault(col, def string) string {
	if col == "" {
		return def
	}
	return col
}
