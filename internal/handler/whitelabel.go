package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
	"github.com/dukerupert/reciperank/internal/upload"
)

var (
	logoURLPattern = regexp.MustCompile(`^https?://.+`)
	colorPattern   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	domainPattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?\.[a-zA-Z]{2,}$`)
)

// LogoUploader stores logo images and returns their public URL.
type LogoUploader interface {
	UploadLogo(ctx context.Context, accountID string, r io.Reader, contentType string) (string, error)
}

type WhiteLabelHandler struct {
	accounts *store.AccountStore
	uploader LogoUploader
	env      Env
}

// NewWhiteLabelHandler builds the handler. A nil uploader disables logo
// uploads.
func NewWhiteLabelHandler(as *store.AccountStore, uploader LogoUploader, env Env) *WhiteLabelHandler {
	return &WhiteLabelHandler{accounts: as, uploader: uploader, env: env}
}

// Get handles GET /api/agency/white-label.
func (h *WhiteLabelHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to load settings", err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, acct.WhiteLabel)
}

type whiteLabelRequest struct {
	CompanyName  string `json:"company_name"`
	CompanyLogo  string `json:"company_logo"`
	PrimaryColor string `json:"primary_color"`
	CustomDomain string `json:"custom_domain"`
}

func (req whiteLabelRequest) validate() string {
	switch {
	case req.CompanyLogo != "" && !logoURLPattern.MatchString(req.CompanyLogo):
		return "Invalid logo URL"
	case req.PrimaryColor != "" && !colorPattern.MatchString(req.PrimaryColor):
		return "Invalid color format"
	case req.CustomDomain != "" && !domainPattern.MatchString(req.CustomDomain):
		return "Invalid domain format"
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Update handles PUT /api/agency/white-label. Empty fields clear the setting.
func (h *WhiteLabelHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req whiteLabelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	acct, err := h.accounts.UpdateWhiteLabel(r.Context(), auth.AccountID(r.Context()), model.WhiteLabel{
		CompanyName:  optional(req.CompanyName),
		CompanyLogo:  optional(req.CompanyLogo),
		PrimaryColor: optional(req.PrimaryColor),
		CustomDomain: optional(req.CustomDomain),
	})
	if err != nil {
		h.env.serverError(w, r, "Failed to save settings", err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, acct.WhiteLabel)
}

// UploadLogo handles POST /api/agency/white-label/logo with a multipart
// "logo" file and stores the resulting URL on the account.
func (h *WhiteLabelHandler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusNotImplemented, "Logo uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxLogoSize+(64<<10))
	file, header, err := r.FormFile("logo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Logo must be 2MB or smaller")
			return
		}
		writeError(w, http.StatusBadRequest, "A logo file is required")
		return
	}
	defer file.Close()

	ctx := r.Context()
	accountID := auth.AccountID(ctx)
	url, err := h.uploader.UploadLogo(ctx, accountID, file, header.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, "Logo must be PNG, JPEG, GIF, WebP or SVG")
		return
	case errors.Is(err, upload.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Logo must be 2MB or smaller")
		return
	case errors.Is(err, upload.ErrEmpty):
		writeError(w, http.StatusBadRequest, "Logo file is empty")
		return
	case err != nil:
		h.env.serverError(w, r, "Failed to upload logo", err)
		return
	}

	acct, err := h.accounts.GetByID(ctx, accountID)
	if err != nil || acct == nil {
		h.env.serverError(w, r, "Failed to load account", err)
		return
	}
	wl := acct.WhiteLabel
	wl.CompanyLogo = &url
	if acct, err = h.accounts.UpdateWhiteLabel(ctx, accountID, wl); err != nil {
		h.env.serverError(w, r, "Failed to save logo", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"url":         url,
		"white_label": acct.WhiteLabel,
	})
}
