package httpapi

import (
	"net/http"
	"time"
)

type sweepRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

func (a *API) sweepTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var in sweepRequest
	if err := readJSON(w, r, &in, true); err != nil {
		a.fail(w, r, err)
		return time.Time{}, false
	}
	if in.Now != nil {
		return *in.Now, true
	}
	return a.now(), true
}

type escalationItem struct {
	LetterID string `json:"letter_id"`
	Step     int    `json:"step"`
	Approver string `json:"approver,omitempty"`
	Role     string `json:"role,omitempty"`
	SLA      string `json:"sla"`
}

func (a *API) sweepEscalations(w http.ResponseWriter, r *http.Request) {
	now, ok := a.sweepTime(w, r)
	if !ok {
		return
	}

	reports, err := a.letters.CheckEscalations(r.Context(), now)
	items := make([]escalationItem, 0, len(reports))
	for _, rep := range reports {
		items = append(items, escalationItem{
			LetterID: rep.LetterID,
			Step:     rep.Escalation.StepNumber,
			Approver: rep.Escalation.Approver,
			Role:     rep.Escalation.Role,
			SLA:      rep.Escalation.SLA.String(),
		})
	}
	if err != nil && len(items) == 0 {
		a.fail(w, r, err)
		return
	}

	resp := map[string]any{"escalated": items}
	if err != nil {
		resp["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) sweepExpiry(w http.ResponseWriter, r *http.Request) {
	now, ok := a.sweepTime(w, r)
	if !ok {
		return
	}

	ids, err := a.signing.SweepExpired(r.Context(), now)
	if err != nil && len(ids) == 0 {
		a.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	resp := map[string]any{"expired": ids}
	if err != nil {
		resp["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
