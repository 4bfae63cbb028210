package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// maxWebhookBody bounds provider webhook payloads.
const maxWebhookBody = 1 << 20

func (a *API) listSigningRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.signing.List(r.Context(), chi.URLParam(r, "letterID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*models.SigningRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signing_requests": reqs})
}

type initiateRequest struct {
	Provider string `json:"provider"`
}

func (a *API) initiateSigning(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.fail(w, r, common.Invalid("index", "must be a number"))
		return
	}
	var in initiateRequest
	if err := readJSON(w, r, &in, true); err != nil {
		a.fail(w, r, err)
		return
	}

	req, err := a.signing.Initiate(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"), idx, in.Provider)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelSigning(w http.ResponseWriter, r *http.Request) {
	var in cancelRequest
	if err := readJSON(w, r, &in, true); err != nil {
		a.fail(w, r, err)
		return
	}
	req, err := a.signing.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "requestID"), in.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type callbackRequest struct {
	Sig string `json:"sig"`
}

// verifyCallback checks the signature a signatory's link carried. It is not
// behind JWT auth; the link signature is the credential.
func (a *API) verifyCallback(w http.ResponseWriter, r *http.Request) {
	var in callbackRequest
	if err := readJSON(w, r, &in, false); err != nil {
		a.fail(w, r, err)
		return
	}
	if in.Sig == "" {
		a.fail(w, r, common.Invalid("sig", "is required"))
		return
	}

	req, err := a.signing.VerifyCallback(r.Context(), chi.URLParam(r, "requestID"), in.Sig)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// webhook applies a provider delivery. Stale, duplicate and unknown
// deliveries are still acknowledged with 200 so the provider stops retrying.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook payload exceeds 1MB")
			return
		}
		a.fail(w, r, common.Invalid("body", "%v", err))
		return
	}

	res, err := a.signing.ApplyWebhook(r.Context(), chi.URLParam(r, "provider"), r.Header, body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
