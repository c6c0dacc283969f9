package gh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"textdrop/pkg/domain"
)

func newStubClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("owner", "repo", "test-token", 5*time.Second)
	c.SetBaseURL(srv.URL)
	return c
}

func TestFetchRaw(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		if want := "/repos/owner/repo/contents/readme.md"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		if got := r.Header.Get("Authorization"); got != "token test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github.v3.raw" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte("# hello"))
	})

	body, err := c.FetchRaw(context.Background(), "readme.md")
	if err != nil {
		t.Fatalf("FetchRaw failed: %v", err)
	}
	if string(body) != "# hello" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchRawNotFound(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.FetchRaw(context.Background(), "gone.txt")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestFetchRawUpstreamError(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FetchRaw(context.Background(), "flaky.txt")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on upstream 5xx, got %v", err)
	}
}

func TestFetchRawTooLarge(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", maxRawFileSize+1)))
	})
	_, err := c.FetchRaw(context.Background(), "huge.txt")
	if !errors.Is(err, domain.ErrTextTooLarge) {
		t.Errorf("expected ErrTextTooLarge, got %v", err)
	}
}

func TestFetchRawDisabled(t *testing.T) {
	c := NewClient("", "", "", time.Second)
	if c.Enabled() {
		t.Fatal("client with no repo reports enabled")
	}
	if _, err := c.FetchRaw(context.Background(), "x"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound from disabled client, got %v", err)
	}
}
