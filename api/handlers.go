package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"quaiwork/agreement"
	"quaiwork/auth"
	"quaiwork/coordinator"
	"quaiwork/escrow"
	"quaiwork/profile"
	"quaiwork/proposal"
	"quaiwork/wallet"
)

type jobView struct {
	ID          int64     `json:"id"`
	Client      string    `json:"client"`
	Freelancer  *string   `json:"freelancer,omitempty"`
	Amount      int64     `json:"amount"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toJobView(j escrow.Job) jobView {
	return jobView{
		ID:          j.ID,
		Client:      j.Client,
		Freelancer:  j.Freelancer,
		Amount:      j.Amount,
		Deadline:    j.Deadline,
		Status:      string(j.Status),
		Title:       j.Title,
		Description: j.Description,
		Category:    j.Category,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

type agreementView struct {
	TokenID    int64     `json:"token_id"`
	JobID      int64     `json:"job_id"`
	Client     string    `json:"client"`
	Freelancer string    `json:"freelancer"`
	Amount     int64     `json:"amount"`
	TokenURI   string    `json:"token_uri"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAgreementView(a agreement.Agreement) agreementView {
	return agreementView{
		TokenID:    a.TokenID,
		JobID:      a.JobID,
		Client:     a.Client,
		Freelancer: a.Freelancer,
		Amount:     a.Amount,
		TokenURI:   a.TokenURI,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
	}
}

type proposalView struct {
	ID          string    `json:"id"`
	JobID       int64     `json:"job_id"`
	Freelancer  string    `json:"freelancer"`
	Rate        int64     `json:"rate"`
	CoverLetter string    `json:"cover_letter"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProposalView(p proposal.Proposal) proposalView {
	return proposalView{
		ID:          p.ID,
		JobID:       p.JobID,
		Freelancer:  p.Freelancer,
		Rate:        p.Rate,
		CoverLetter: p.CoverLetter,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
	}
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address  string `json:"address"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	user, err := s.sessions.Register(r.Context(), auth.RegisterRequest{
		Address:  req.Address,
		Password: req.Password,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"address": user.Address,
		"role":    string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	res, err := s.sessions.Login(r.Context(), auth.LoginRequest{
		Address:  req.Address,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   res.Token,
		"address": res.User.Address,
		"role":    string(res.User.Role),
	})
}

// --- jobs ---

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      int64  `json:"amount"`
		Deadline    string `json:"deadline"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("deadline must be RFC 3339"))
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), escrow.CreateJobParams{
		Client:      callerAddress(r),
		Amount:      req.Amount,
		Deadline:    deadline,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := escrow.Filters{
		Client:     q.Get("client"),
		Freelancer: q.Get("freelancer"),
		Status:     escrow.Status(q.Get("status")),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	jobs, total, err := s.jobs.ListJobs(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views, "total": total})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleJobLedger(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	entries, err := s.wallets.EntriesByJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type entryView struct {
		Account   string    `json:"account"`
		Delta     int64     `json:"delta"`
		Kind      string    `json:"kind"`
		CreatedAt time.Time `json:"created_at"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			Account:   e.Account,
			Delta:     e.Delta,
			Kind:      string(e.Kind),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

// --- transitions ---

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	var req struct {
		Freelancer string `json:"freelancer"`
		TokenURI   string `json:"token_uri"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	res, err := s.orch.AcceptProposal(r.Context(), coordinator.AcceptParams{
		JobID:      jobID,
		Caller:     callerAddress(r),
		Freelancer: req.Freelancer,
		TokenURI:   req.TokenURI,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":       toJobView(res.Job),
		"agreement": toAgreementView(res.Agreement),
	})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.orch.MarkDelivered)
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.orch.Reclaim)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, jobID int64, caller string) (escrow.Job, error)) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	job, err := op(r.Context(), jobID, callerAddress(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	// Body is optional; a bare release carries no rating.
	_ = decodeJSON(r, &req)

	job, err := s.orch.Release(r.Context(), coordinator.ReleaseParams{
		JobID:   jobID,
		Caller:  callerAddress(r),
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	job, err := s.orch.Dispute(r.Context(), jobID, callerAddress(r), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	var req struct {
		TokenURI string `json:"token_uri"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	ag, err := s.orch.Remediate(r.Context(), jobID, req.TokenURI)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementView(ag))
}

// --- agreements ---

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathInt64(r, "tokenId")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid token id"))
		return
	}
	ag, err := s.agreements.GetByToken(r.Context(), tokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementView(ag))
}

func (s *Server) handleAgreementByJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid job id"))
		return
	}
	ag, err := s.agreements.GetByJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementView(ag))
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	party := r.URL.Query().Get("party")
	if party == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("party query parameter required"))
		return
	}
	addr, err := wallet.NormalizeAddress(party)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid party address"))
		return
	}

	ags, err := s.agreements.ListByParty(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]agreementView, 0, len(ags))
	for _, ag := range ags {
		views = append(views, toAgreementView(ag))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agreements": views})
}

// --- proposals ---

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID       int64  `json:"job_id"`
		Rate        int64  `json:"rate"`
		CoverLetter string `json:"cover_letter"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	p, err := s.proposals.Submit(r.Context(), proposal.SubmitParams{
		JobID:       req.JobID,
		Freelancer:  callerAddress(r),
		Rate:        req.Rate,
		CoverLetter: req.CoverLetter,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalView(p))
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := proposal.Filters{
		Freelancer: q.Get("freelancer"),
		Status:     proposal.Status(q.Get("status")),
	}
	filters.JobID, _ = strconv.ParseInt(q.Get("job_id"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	proposals, total, err := s.proposals.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		views = append(views, toProposalView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": views, "total": total})
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.proposals.Withdraw(r.Context(), id, callerAddress(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalView(p))
}

// --- wallet ---

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	acc, err := s.wallets.Deposit(r.Context(), callerAddress(r), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": acc.Address,
		"balance": acc.Balance,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := s.wallets.Balance(r.Context(), callerAddress(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": acc.Address,
		"balance": acc.Balance,
	})
}

// --- disputes ---

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID, _ := strconv.ParseInt(q.Get("job_id"), 10, 64)

	records, err := s.disputes.List(r.Context(), jobID, q.Get("party"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	type disputeView struct {
		ID         string     `json:"id"`
		JobID      int64      `json:"job_id"`
		RaisedBy   string     `json:"raised_by"`
		Reason     string     `json:"reason"`
		Status     string     `json:"status"`
		Resolution *string    `json:"resolution,omitempty"`
		CreatedAt  time.Time  `json:"created_at"`
		ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	}
	views := make([]disputeView, 0, len(records))
	for _, rec := range records {
		views = append(views, disputeView{
			ID:         rec.ID,
			JobID:      rec.JobID,
			RaisedBy:   rec.RaisedBy,
			Reason:     rec.Reason,
			Status:     string(rec.Status),
			Resolution: rec.Resolution,
			CreatedAt:  rec.CreatedAt,
			ResolvedAt: rec.ResolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": views})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	rec, err := s.disputes.Resolve(r.Context(), id, req.Resolution)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         rec.ID,
		"job_id":     rec.JobID,
		"status":     string(rec.Status),
		"resolution": rec.Resolution,
	})
}

// --- ratings and profiles ---

func (s *Server) handleFreelancerRatings(w http.ResponseWriter, r *http.Request) {
	addr, err := wallet.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid address"))
		return
	}

	summary, reviews, err := s.ratings.ForFreelancer(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type reviewView struct {
		JobID     int64     `json:"job_id"`
		Client    string    `json:"client"`
		Rating    int       `json:"rating"`
		Comment   string    `json:"comment"`
		CreatedAt time.Time `json:"created_at"`
	}
	views := make([]reviewView, 0, len(reviews))
	for _, rec := range reviews {
		views = append(views, reviewView{
			JobID:     rec.JobID,
			Client:    rec.Client,
			Rating:    rec.Rating,
			Comment:   rec.Comment,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"average": summary.Average,
		"count":   summary.Count,
		"reviews": views,
	})
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserType    string `json:"user_type"`
		DisplayName string `json:"display_name"`
		Bio         string `json:"bio"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	p, err := s.profiles.Upsert(r.Context(), profile.Profile{
		Address:     callerAddress(r),
		UserType:    req.UserType,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(p))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	addr, err := wallet.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid address"))
		return
	}
	p, err := s.profiles.GetByAddress(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(p))
}

type profileView struct {
	Address     string    `json:"address"`
	UserType    string    `json:"user_type"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProfileView(p profile.Profile) profileView {
	return profileView{
		Address:     p.Address,
		UserType:    p.UserType,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		UpdatedAt:   p.UpdatedAt,
	}
}
