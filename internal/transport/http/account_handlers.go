package http

import (
	"net/http"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type createAccountRequest struct {
	ReferralCode string `json:"referralCode" validate:"omitempty,alphanum,max=32"`
}

type payoutRequest struct {
	PayoutID string `json:"payoutId" validate:"required,max=64,contains=@"`
}

type proofsRequest struct {
	Expanded *bool `json:"expanded" validate:"required"`
}

type accountResponse struct {
	AccountID string `json:"accountId"`
	Created   bool   `json:"created"`
}

type referralResponse struct {
	Dispatched bool `json:"dispatched"`
}

// decode reads an optional JSON body into dst and validates it.
func (a *API) decode(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errors.Wrap(errBadRequest, err.Error())
		}
	}
	return a.validate.Struct(dst)
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	creds, created, err := a.accounts.EnsureAccount(r.Context(), sessionFromContext(r.Context()), req.ReferralCode)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, accountResponse{AccountID: creds.AccountID, Created: created})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.accounts.Logout(r.Context(), sessionFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := a.accounts.Dashboard(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) completeTask(w http.ResponseWriter, r *http.Request) {
	dash, err := a.accounts.CompleteTask(r.Context(), sessionFromContext(r.Context()), mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) submitProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxProofBytes)
	if err := r.ParseMultipartForm(a.cfg.MaxProofBytes); err != nil {
		writeError(w, errors.Wrap(errBadRequest, "proof upload"))
		return
	}
	file, header, err := r.FormFile("proof")
	if err != nil {
		writeError(w, errors.Wrap(errBadRequest, "missing proof file"))
		return
	}
	defer file.Close()

	dash, err := a.accounts.SubmitTaskProof(r.Context(), sessionFromContext(r.Context()),
		mux.Vars(r)["taskId"], filepath.Base(header.Filename), file)
	if err != nil {
		a.logger.Info("proof rejected", zap.String("task", mux.Vars(r)["taskId"]), zap.Error(err))
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) updatePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dash, err := a.accounts.UpdatePayoutID(r.Context(), sessionFromContext(r.Context()), req.PayoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	dash, err := a.accounts.MarkVerified(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) share(w http.ResponseWriter, r *http.Request) {
	dash, err := a.accounts.RecordShare(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dash)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	res, err := a.accounts.Withdraw(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) trackReferral(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := a.validate.Var(code, "required,alphanum,max=32"); err != nil {
		writeError(w, err)
		return
	}
	dispatched := a.accounts.TrackReferral(r.Context(), sessionFromContext(r.Context()), code)
	writeData(w, http.StatusAccepted, referralResponse{Dispatched: dispatched})
}

func (a *API) setProofsExpanded(w http.ResponseWriter, r *http.Request) {
	var req proofsRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.accounts.SetProofsExpanded(r.Context(), sessionFromContext(r.Context()), *req.Expanded); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
