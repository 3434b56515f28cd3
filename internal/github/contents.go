// Package github is a store.Backend over the GitHub repository contents API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"retroboard/internal/ratelimit"
	"retroboard/internal/store"
)

const DefaultBaseURL = "https://api.github.com"

var ErrMissingToken = errors.New("github: access token is required")

type Config struct {
	BaseURL    string
	Owner      string
	Repo       string
	Branch     string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL string
	owner   string
	repo    string
	branch  string
	token   string
	http    *http.Client
	log     *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: base,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  branch,
		token:   strings.TrimSpace(cfg.Token),
		http:    hc,
		log:     log,
	}, nil
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type repoResponse struct {
	Name    string `json:"name"`
	Private bool   `json:"private"`
	Owner   struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, string, error) {
	endpoint := c.contentsURL(path) + "?ref=" + url.QueryEscape(c.branch)
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", &store.StoreError{Op: "fetch", Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", store.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", c.statusError("fetch", path, resp)
	}

	var body contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", &store.StoreError{Op: "fetch", Path: path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	data, err := decodeContent(body.Content)
	if err != nil {
		return nil, "", &store.StoreError{Op: "fetch", Path: path, Err: err}
	}
	c.log.Debug("github: fetched", "path", path, "sha", body.SHA, "bytes", len(data))
	return data, body.SHA, nil
}

func (c *Client) Put(ctx context.Context, path string, data []byte, expected, message string) (string, error) {
	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  c.branch,
		SHA:     expected,
	})
	if err != nil {
		return "", &store.StoreError{Op: "write", Path: path, Err: err}
	}

	resp, err := c.doRequest(ctx, http.MethodPut, c.contentsURL(path), payload)
	if err != nil {
		return "", &store.StoreError{Op: "write", Path: path, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", &store.ConflictError{Path: path, Expected: expected, Err: errors.New(readMessage(resp))}
	default:
		return "", c.statusError("write", path, resp)
	}

	var body putResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &store.StoreError{Op: "write", Path: path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.log.Debug("github: wrote", "path", path, "sha", body.Content.SHA)
	return body.Content.SHA, nil
}

func (c *Client) Repository(ctx context.Context) (store.RepoInfo, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo))
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return store.RepoInfo{}, &store.StoreError{Op: "repository", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.RepoInfo{}, c.statusError("repository", "", resp)
	}
	var body repoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return store.RepoInfo{}, &store.StoreError{Op: "repository", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return store.RepoInfo{Name: body.Name, Owner: body.Owner.Login, Private: body.Private}, nil
}

func (c *Client) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"))
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

// statusError maps a non-success response. GitHub signals exhausted quota
// with 429 or with 403 and a zero X-RateLimit-Remaining header.
func (c *Client) statusError(op, path string, resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		c.log.Warn("github: remote rate limit hit", "op", op, "path", path, "status", resp.StatusCode)
		return remoteRateLimit(resp.Header, time.Now())
	}
	return &store.StoreError{Op: op, Path: path, Status: resp.StatusCode, Err: errors.New(readMessage(resp))}
}

func remoteRateLimit(h http.Header, now time.Time) *ratelimit.ExceededError {
	e := &ratelimit.ExceededError{Window: time.Hour}
	if limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		e.Limit = limit
	}
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	} else if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if d := time.Unix(reset, 0).Sub(now); d > 0 {
			e.RetryAfter = d
		}
	}
	return e
}

func readMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

// decodeContent undoes the API's base64, which arrives wrapped with newlines.
func decodeContent(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, encoded)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return data, nil
}
