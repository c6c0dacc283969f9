package api

import (
	"archive/zip"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"textdrop/cfg"
	"textdrop/metrics"
	"textdrop/pkg/domain"
	"textdrop/svc/gh"
	"textdrop/svc/svc"
	"textdrop/svc/util"
)

type Hdl struct {
	text *svc.Text
	gh   *gh.Client
	cfg  *cfg.Cfg
}

type CreateReq struct {
	Content string `json:"content"`
}

type CreateResp struct {
	ID        string    `json:"id"`
	ShareLink string    `json:"share_link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UpdateReq struct {
	Content  string `json:"content"`
	Password string `json:"password,omitempty"`
}

type LockReq struct {
	Password string `json:"password"`
}

func (h *Hdl) CreateText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req CreateReq
	if !decodeBody(w, r, h.cfg.MaxTextSize*2, &req) {
		return
	}
	if req.Content == "" {
		log.Warn().Msg("empty content")
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	rec, err := h.text.Create(r.Context(), domain.CreateParams{
		Content: sanitizeContent(req.Content),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create text")
		if errors.Is(err, domain.ErrTextTooLarge) ||
			errors.Is(err, domain.ErrContentRequired) ||
			errors.Is(err, domain.ErrIDGenerationFailed) ||
			errors.Is(err, domain.ErrUnavailable) {
			writeErr(w, err, requestID)
			return
		}
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("text_id", rec.ID).
		Time("expires_at", rec.ExpiresAt).
		Msg("text created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:        rec.ID,
		ShareLink: h.cfg.BaseURL + "/link/" + rec.ID,
		ExpiresAt: rec.ExpiresAt,
	})
}

func (h *Hdl) GetText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrTextNotFound, requestID)
		return
	}
	rec, err := h.text.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			writeErr(w, domain.ErrTextNotFound, requestID)
			return
		}
		log.Warn().Err(err).Str("text_id", id).Msg("get failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("text_id", id).
		Int("views", rec.Views).
		Msg("text retrieved")
	json.NewEncoder(w).Encode(rec)
}

func (h *Hdl) UpdateText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrTextNotFound, requestID)
		return
	}
	var req UpdateReq
	if !decodeBody(w, r, h.cfg.MaxTextSize*2, &req) {
		return
	}
	password := req.Password
	if password == "" {
		password = r.Header.Get("X-Text-Password")
	}
	rec, err := h.text.Update(r.Context(), id, domain.UpdateParams{
		Content:  sanitizeContent(req.Content),
		Password: password,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTextNotFound):
			writeErr(w, domain.ErrTextNotFound, requestID)
		case errors.Is(err, domain.ErrUnauthorized):
			log.Warn().
				Str("text_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("update rejected on locked text")
			writeErr(w, domain.ErrUnauthorized, requestID)
		case errors.Is(err, domain.ErrTextTooLarge):
			writeErr(w, domain.ErrTextTooLarge, requestID)
		default:
			log.Error().Err(err).Str("text_id", id).Msg("failed to update text")
			writeErr(w, domain.ErrInternalServer, requestID)
		}
		return
	}
	log.Info().Str("text_id", id).Msg("text updated")
	json.NewEncoder(w).Encode(rec)
}

func (h *Hdl) DeleteText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrTextNotFound, requestID)
		return
	}
	if err := h.text.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			writeErr(w, domain.ErrTextNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("text_id", id).Msg("failed to delete text")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

// DownloadText serves the record's content as a zip archive holding a single
// text file, matching the share page's download button.
func (h *Hdl) DownloadText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrTextNotFound, requestID)
		return
	}
	rec, err := h.text.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			writeErr(w, domain.ErrTextNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("text_id", id).Msg("failed to load text for download")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="text-`+id+`.zip"`)
	w.WriteHeader(http.StatusOK)
	zw := zip.NewWriter(w)
	f, err := zw.Create("text-" + id + ".txt")
	if err == nil {
		_, err = f.Write([]byte(rec.Content))
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		// Headers are gone at this point; all we can do is log and cut the stream.
		log.Error().Err(err).Str("text_id", id).Msg("zip stream failed")
		return
	}
	metrics.TextDownloaded.Inc()
	log.Info().Str("text_id", id).Msg("zip download served")
}

func (h *Hdl) LockText(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		writeErr(w, domain.ErrTextNotFound, requestID)
		return
	}
	var req LockReq
	if !decodeBody(w, r, h.cfg.MaxTextSize*2, &req) {
		return
	}
	if req.Password == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.text.Lock(r.Context(), id, req.Password); err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			writeErr(w, domain.ErrTextNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("text_id", id).Msg("failed to lock text")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("text_id", id).Msg("text locked")
	json.NewEncoder(w).Encode(map[string]string{"status": "locked"})
}

func (h *Hdl) RawFile(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	filePath := chi.URLParam(r, "filePath")
	body, err := h.gh.FetchRaw(r.Context(), filePath)
	if err != nil {
		if errors.Is(err, gh.ErrFileNotFound) {
			writeErr(w, gh.ErrFileNotFound, requestID)
			return
		}
		log.Warn().Err(err).Str("path", filePath).Msg("raw fetch failed")
		writeErr(w, domain.ErrUnavailable, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// decodeBody enforces the JSON content type and size ceiling shared by every
// body-carrying endpoint before decoding into dst.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, limit int64, dst *T) bool {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return false
	}
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return false
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrTextTooLarge, requestID)
			return false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return false
	}
	return true
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Str("detail", util.RedactSecret(err.Error())).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

// sanitizeContent normalizes pasted text and strips control characters. It
// never escapes markup: content must round-trip byte-for-byte through
// create/get for ordinary text.
func sanitizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
