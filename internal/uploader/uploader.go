// Package uploader is the HTTP client used by the watcher and the bulk tools.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/models"
	"github.com/juand-r/ius-dashboard/internal/proxy"
	"github.com/juand-r/ius-dashboard/internal/retry"
)

// Client talks to one storage server (directly or through the auth proxy).
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	username  string
	password  string
	fragments []string

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Credentials attached only to requests touching a protected dataset.
	Username           string
	Password           string
	ProtectedFragments []string

	RetryConfig retry.Config
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		username:    cfg.Username,
		password:    cfg.Password,
		fragments:   cfg.ProtectedFragments,
		online:      true,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsOnline returns true if the server responded to the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online", logging.String("url", c.baseURL))
		} else {
			logging.Warn("server is offline", logging.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// applyAuth attaches Basic credentials when the path belongs to a protected
// dataset and a password is configured.
func (c *Client) applyAuth(req *http.Request, rel string) {
	if c.password == "" {
		return
	}
	if proxy.RelProtected(rel, c.fragments) {
		req.SetBasicAuth(c.username, c.password)
	}
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// UploadResponse is the server's answer to a successful upload.
type UploadResponse struct {
	Status     string `json:"status"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Collection string `json:"collection"`
	Timestamp  string `json:"timestamp"`
}

// Upload sends one file as a multipart envelope. Exactly one attempt is made;
// a changed file produces a fresh event, so failed uploads are not retried
// here.
func (c *Client) Upload(ctx context.Context, rel string, content io.Reader, collection, timestamp string) (*UploadResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("path", rel); err != nil {
		return nil, err
	}
	if err := w.WriteField("collection", collection); err != nil {
		return nil, err
	}
	if err := w.WriteField("timestamp", timestamp); err != nil {
		return nil, err
	}
	fw, err := w.CreateFormFile("file", rel)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.applyAuth(req, rel)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode < 500 {
			c.setOnline(true)
		} else {
			c.setOnline(false)
		}
		return nil, decodeError(resp, "upload")
	}

	c.setOnline(true)
	result := &UploadResponse{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListRemote fetches the server file tree and flattens it into a path set.
func (c *Client) ListRemote(ctx context.Context) (map[string]struct{}, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (map[string]struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files", nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.setOnline(false)
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
			}
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}

		c.setOnline(true)
		var root models.FileNode
		if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
			return nil, err
		}
		set := make(map[string]struct{})
		for _, p := range root.Flatten() {
			set[p] = struct{}{}
		}
		return set, nil
	})
}

// Delete removes a file on the server. A 404 means the file is already gone
// and counts as success.
func (c *Client) Delete(ctx context.Context, rel string) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/files/"+escapePath(rel), nil)
		if err != nil {
			return err
		}
		c.applyAuth(req, rel)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			c.setOnline(true)
			return nil
		case resp.StatusCode == http.StatusNotFound:
			c.setOnline(true)
			return nil
		case resp.StatusCode >= 500:
			c.setOnline(false)
			return retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
		default:
			return decodeError(resp, "delete")
		}
	})
}

// escapePath escapes each segment of a relative path for use in a URL, so
// file names containing "?", "#" or spaces survive the round trip.
func escapePath(rel string) string {
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func decodeError(resp *http.Response, op string) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
		return fmt.Errorf("%s failed: %s (%d)", op, body.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s failed: %d", op, resp.StatusCode)
}
