package domain

import (
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrTextNotFound, http.StatusNotFound},
		{ErrTextConflict, http.StatusConflict},
		{ErrTextTooLarge, http.StatusBadRequest},
		{ErrContentRequired, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrIDGenerationFailed, http.StatusInternalServerError},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Errorf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusSeesThroughWrapping(t *testing.T) {
	wrapped := errors.Wrap(errors.Wrap(ErrTextNotFound, "load"), "handler")
	if got := Status(wrapped); got != http.StatusNotFound {
		t.Errorf("Status(wrapped) = %d, want 404", got)
	}
	resp := ToResp(wrapped)
	if resp.Error.Code != "TEXT_NOT_FOUND" {
		t.Errorf("ToResp(wrapped).Code = %q", resp.Error.Code)
	}
}

func TestToRespHidesUnknownErrors(t *testing.T) {
	resp := ToResp(errors.New("db: disk I/O error at /var/lib/texts.db"))
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("unknown error mapped to %q", resp.Error.Code)
	}
	if resp.Error.Msg != "internal error" {
		t.Errorf("internal detail leaked: %q", resp.Error.Msg)
	}
}

func TestLive(t *testing.T) {
	now := time.Now()
	rec := &TextRecord{ExpiresAt: now.Add(time.Minute)}
	if !rec.Live(now) {
		t.Error("record with future deadline reported dead")
	}
	if rec.Live(now.Add(2 * time.Minute)) {
		t.Error("record past deadline reported live")
	}
	if rec.Live(rec.ExpiresAt) {
		t.Error("record live at the exact deadline instant")
	}
}
