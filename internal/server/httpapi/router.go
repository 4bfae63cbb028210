// Package httpapi exposes the letter lifecycle, approval and signing
// operations over a JSON HTTP API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
)

// OpsRole is required for the admin sweep endpoints.
const OpsRole = "ops"

type API struct {
	letters *services.LetterService
	signing *services.SigningService
	secret  []byte
	log     logging.Logger
	now     func() time.Time
}

func New(letters *services.LetterService, signing *services.SigningService, secretKey string, log logging.Logger) *API {
	return &API{
		letters: letters,
		signing: signing,
		secret:  []byte(secretKey),
		log:     log.With("module", "http"),
		now:     time.Now,
	}
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(origin(models.ChannelHTTP), a.accessLog)

		r.Post("/api/v1/signing-requests/{requestID}/callback", a.verifyCallback)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Route("/api/v1/letters", func(r chi.Router) {
				r.Post("/", a.createLetter)
				r.Route("/{letterID}", func(r chi.Router) {
					r.Get("/", a.getLetter)
					r.Patch("/", a.updateDraft)
					r.Post("/submit", a.submit)
					r.Post("/steps/{step}/decision", a.decide)
					r.Post("/void", a.void)
					r.Post("/files", a.attachFile)
					r.Get("/files/{fileID}/url", a.fileURL)
					r.Post("/finalize", a.finalize)
					r.Get("/audit", a.audit)
					r.Get("/signing-requests", a.listSigningRequests)
					r.Post("/signatories/{index}/signing-requests", a.initiateSigning)
				})
			})
			r.Post("/api/v1/signing-requests/{requestID}/cancel", a.cancelSigning)

			r.Route("/admin/sweeps", func(r chi.Router) {
				r.Use(requireRole(OpsRole))
				r.Post("/escalations", a.sweepEscalations)
				r.Post("/signing-expiry", a.sweepExpiry)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(origin(models.ChannelWebhook), a.accessLog)
		r.Post("/webhooks/esign/{provider}", a.webhook)
	})

	return r
}
