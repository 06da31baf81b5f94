package api

import (
	"errors"
	"net/http"

	"quaiwork/agreement"
	"quaiwork/auth"
	"quaiwork/coordinator"
	"quaiwork/dispute"
	"quaiwork/escrow"
	"quaiwork/profile"
	"quaiwork/proposal"
	"quaiwork/rating"
	"quaiwork/wallet"
)

// writeError maps domain errors onto HTTP status codes. Precondition failures
// are 409: the request was well-formed, the job just is not in a state that
// admits it. A partial acceptance is 502 so the caller knows money moved and
// remediation applies.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var precond *escrow.PreconditionError
	var partial *coordinator.PartialAcceptanceFailure

	switch {
	case errors.As(err, &partial):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  partial.Error(),
			"job_id": partial.JobID,
		})
		return
	case errors.As(err, &precond):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  precond.Error(),
			"rule":   string(precond.Rule),
			"action": precond.Action,
		})
		return
	case errors.Is(err, escrow.ErrJobNotFound),
		errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, proposal.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, wallet.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		return
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return
	case errors.Is(err, proposal.ErrDuplicate),
		errors.Is(err, proposal.ErrOwnJob),
		errors.Is(err, auth.ErrDuplicateAddress),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, agreement.ErrDuplicateMint):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	case errors.Is(err, agreement.ErrNotIssuer):
		writeJSON(w, http.StatusForbidden, errorBody(err.Error()))
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	s.logger.Printf("api: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
