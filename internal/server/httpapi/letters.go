package httpapi

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
	"github.com/dmitrijs2005/letterflow/internal/server/storage"
)

// ReplayedHeader marks a response answered from a stored idempotent result.
const ReplayedHeader = "Idempotent-Replayed"

func (a *API) createLetter(w http.ResponseWriter, r *http.Request) {
	var in services.CreateLetterInput
	if err := readJSON(w, r, &in, false); err != nil {
		a.fail(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(common.IdempotencyKeyHeader))
	l, replayed, err := a.letters.Create(r.Context(), actorFrom(r), key, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) getLetter(w http.ResponseWriter, r *http.Request) {
	l, err := a.letters.Get(r.Context(), chi.URLParam(r, "letterID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) updateDraft(w http.ResponseWriter, r *http.Request) {
	var in services.UpdateDraftInput
	if err := readJSON(w, r, &in, false); err != nil {
		a.fail(w, r, err)
		return
	}
	l, err := a.letters.UpdateDraft(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	l, err := a.letters.Submit(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type decisionRequest struct {
	Decision models.Decision `json:"decision"`
	Comments string          `json:"comments"`
}

type decisionResponse struct {
	Letter   *models.Letter `json:"letter"`
	Step     models.Step    `json:"step"`
	Replayed bool           `json:"replayed"`
}

func (a *API) decide(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		a.fail(w, r, common.Invalid("step", "must be a number"))
		return
	}
	var in decisionRequest
	if err := readJSON(w, r, &in, false); err != nil {
		a.fail(w, r, err)
		return
	}
	in.Decision = models.Decision(strings.ToUpper(string(in.Decision)))

	res, err := a.letters.Decide(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"), step, in.Decision, in.Comments)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Letter: res.Letter, Step: res.Step, Replayed: res.Replayed})
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (a *API) void(w http.ResponseWriter, r *http.Request) {
	var in voidRequest
	if err := readJSON(w, r, &in, true); err != nil {
		a.fail(w, r, err)
		return
	}
	l, err := a.letters.Void(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"), in.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// attachFile takes either a JSON file reference or a raw PDF upload.
func (a *API) attachFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "letterID")

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/pdf" {
		r.Body = http.MaxBytesReader(w, r.Body, storage.MaxPDFSize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			a.fail(w, r, common.Invalid("file", "larger than %d bytes or unreadable: %v", storage.MaxPDFSize, err))
			return
		}
		f, err := a.letters.UploadFile(r.Context(), actorFrom(r), id, data)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
		return
	}

	var in services.AttachFileInput
	if err := readJSON(w, r, &in, false); err != nil {
		a.fail(w, r, err)
		return
	}
	f, err := a.letters.AttachFile(r.Context(), actorFrom(r), id, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) fileURL(w http.ResponseWriter, r *http.Request) {
	url, err := a.letters.FileURL(r.Context(), chi.URLParam(r, "letterID"), chi.URLParam(r, "fileID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *API) finalize(w http.ResponseWriter, r *http.Request) {
	l, err := a.letters.Finalize(r.Context(), actorFrom(r), chi.URLParam(r, "letterID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) audit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.letters.Audit(r.Context(), chi.URLParam(r, "letterID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
