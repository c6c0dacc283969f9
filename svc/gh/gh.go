package gh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"textdrop/metrics"
	"textdrop/pkg/domain"
	"textdrop/svc/util"
)

const maxRawFileSize = 1 << 20 // 1 MiB

var ErrFileNotFound = domain.NewErr("RAW_FILE_NOT_FOUND", "file not found", http.StatusNotFound)

// Client fetches raw file contents from a GitHub repository through the
// contents API. The token comes from the environment; nothing here is
// hardcoded.
type Client struct {
	http    *http.Client
	baseURL string
	owner   string
	repo    string
	token   string
}

func NewClient(owner, repo, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: "https://api.github.com",
		owner:   owner,
		repo:    repo,
		token:   token,
	}
}

// SetBaseURL points the client at a different API host. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

func (c *Client) Enabled() bool {
	return c.owner != "" && c.repo != ""
}

// FetchRaw returns the file body for the given repository path, or
// ErrFileNotFound when the upstream answers 404 (the original behavior of
// collapsing every fetch failure into "not found" is kept for 4xx only;
// upstream 5xx surfaces as Unavailable).
func (c *Client) FetchRaw(ctx context.Context, filePath string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrFileNotFound
	}
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(filePath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build raw fetch request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.raw")
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RawFetches.WithLabelValues("error").Inc()
		util.Warn().Err(err).Str("path", filePath).Msg("raw fetch failed")
		return nil, domain.ErrUnavailable
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		metrics.RawFetches.WithLabelValues("not_found").Inc()
		return nil, ErrFileNotFound
	default:
		metrics.RawFetches.WithLabelValues("error").Inc()
		util.Warn().Int("status", resp.StatusCode).Str("path", filePath).Msg("raw fetch upstream error")
		return nil, domain.ErrUnavailable
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRawFileSize+1))
	if err != nil {
		metrics.RawFetches.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "read raw fetch body")
	}
	if len(body) > maxRawFileSize {
		metrics.RawFetches.WithLabelValues("too_large").Inc()
		return nil, domain.ErrTextTooLarge
	}
	metrics.RawFetches.WithLabelValues("ok").Inc()
	return body, nil
}
