// Package kobo implements publish.Platform against the KoboToolbox v2 API.
package kobo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/logging"
	"github.com/JonMunkholm/pcodesync/internal/publish"
)

const (
	xlsxDataURLPrefix = "data:application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;base64,"
	listLimit         = "1000"
	assetTypesQuery   = "(asset_type:template OR asset_type:block OR asset_type:question) AND "
)

// Client is a KoboToolbox API client bound to one server and token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ publish.Platform = (*Client)(nil)

// NewClient returns a client for target. A nil httpClient uses http.DefaultClient.
func NewClient(target config.Target, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(target.URL, "/"),
		token:   target.Token,
		http:    httpClient,
	}
}

func (c *Client) assetsURL() string { return c.baseURL + "/api/v2/assets/" }

func (c *Client) assetURL(uid string) string { return c.assetsURL() + uid + "/" }

type assetList struct {
	Count   int             `json:"count"`
	Next    string          `json:"next"`
	Results []publish.Asset `json:"results"`
}

// ListAssets returns library assets under parentUID, or unparented ones when
// parentUID is empty. Pages are followed until exhausted.
func (c *Client) ListAssets(ctx context.Context, parentUID string) ([]publish.Asset, error) {
	q := assetTypesQuery + "parent:null"
	if parentUID != "" {
		q = assetTypesQuery + "parent__uid:" + parentUID
	}
	params := url.Values{
		"q":                 {q},
		"limit":             {listLimit},
		"metadata":          {"on"},
		"collections_first": {"true"},
		"format":            {"json"},
	}

	var assets []publish.Asset
	next := c.assetsURL() + "?" + params.Encode()
	for next != "" {
		req, err := c.newRequest(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var page assetList
		if err := c.do(req, "list assets", &page); err != nil {
			return nil, err
		}
		assets = append(assets, page.Results...)
		next = page.Next
	}
	return assets, nil
}

type bulkRequest struct {
	Payload struct {
		AssetUIDs []string `json:"asset_uids"`
		Action    string   `json:"action"`
	} `json:"payload"`
}

// DeleteAssets deletes assets with one bulk request.
func (c *Client) DeleteAssets(ctx context.Context, uids []string) error {
	var body bulkRequest
	body.Payload.AssetUIDs = uids
	body.Payload.Action = "delete"

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.assetsURL()+"bulk/", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "bulk delete", nil)
}

type importResponse struct {
	UID      string          `json:"uid"`
	Status   string          `json:"status"`
	Messages json.RawMessage `json:"messages"`
}

// ImportAsset uploads an xlsx workbook as a library block.
func (c *Client) ImportAsset(ctx context.Context, name string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"library", "true"},
		{"name", name},
		{"base64Encoded", xlsxDataURLPrefix + base64.StdEncoding.EncodeToString(content)},
		{"desired_type", "block"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/api/v2/imports/", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp importResponse
	if err := c.do(req, "import", &resp); err != nil {
		return "", err
	}
	if resp.UID == "" {
		return "", &core.RemoteAPIError{Op: "import", Status: http.StatusOK, Body: "response has no import uid"}
	}
	logging.FromContext(ctx).Debug("import created", "name", name, "import_uid", resp.UID, "bytes", len(content))
	return resp.UID, nil
}

// ImportStatus reports the state of an import.
func (c *Client) ImportStatus(ctx context.Context, importUID string) (publish.ImportState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/api/v2/imports/"+url.PathEscape(importUID)+"/", nil)
	if err != nil {
		return publish.ImportState{}, err
	}
	var resp importResponse
	if err := c.do(req, "import status", &resp); err != nil {
		return publish.ImportState{}, err
	}
	state := publish.ImportState{UID: importUID, Status: resp.Status}
	if len(resp.Messages) > 0 && string(resp.Messages) != "null" {
		state.Messages = string(resp.Messages)
	}
	return state, nil
}

// MoveAsset sets the asset's parent collection.
func (c *Client) MoveAsset(ctx context.Context, asset publish.Asset, parentUID string) error {
	target := asset.URL
	if target == "" {
		target = c.assetURL(asset.UID)
	}
	form := url.Values{"parent": {c.assetURL(parentUID)}}

	req, err := c.newRequest(ctx, http.MethodPatch, target, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, "move", nil)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
// Any non-2xx status becomes a *core.RemoteAPIError.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBody+1))
		return &core.RemoteAPIError{Op: op, Status: resp.StatusCode, Body: core.TruncateBody(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
