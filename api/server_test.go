package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

const (
	clientAddr     = "0x1111111111111111111111111111111111111111"
	freelancerAddr = "0x2222222222222222222222222222222222222222"
)

type stubLedger struct {
	createFn func(context.Context, escrow.CreateJobParams) (escrow.Job, error)
	getFn    func(context.Context, int64) (escrow.Job, error)
	listFn   func(context.Context, escrow.Filters) ([]escrow.Job, int, error)
}

func (s *stubLedger) CreateJob(ctx context.Context, p escrow.CreateJobParams) (escrow.Job, error) {
	return s.createFn(ctx, p)
}

func (s *stubLedger) GetJob(ctx context.Context, id int64) (escrow.Job, error) {
	return s.getFn(ctx, id)
}

func (s *stubLedger) ListJobs(ctx context.Context, f escrow.Filters) ([]escrow.Job, int, error) {
	return s.listFn(ctx, f)
}

type stubOrch struct {
	acceptFn  func(context.Context, coordinator.AcceptParams) (coordinator.AcceptResult, error)
	releaseFn func(context.Context, coordinator.ReleaseParams) (escrow.Job, error)
}

func (s *stubOrch) AcceptProposal(ctx context.Context, p coordinator.AcceptParams) (coordinator.AcceptResult, error) {
	return s.acceptFn(ctx, p)
}

func (s *stubOrch) Release(ctx context.Context, p coordinator.ReleaseParams) (escrow.Job, error) {
	return s.releaseFn(ctx, p)
}

func (s *stubOrch) Dispute(context.Context, int64, string, string) (escrow.Job, error) {
	return escrow.Job{}, nil
}

func (s *stubOrch) Reclaim(context.Context, int64, string) (escrow.Job, error) {
	return escrow.Job{}, nil
}

func (s *stubOrch) MarkDelivered(context.Context, int64, string) (escrow.Job, error) {
	return escrow.Job{}, nil
}

func (s *stubOrch) Remediate(context.Context, int64, string) (agreement.Agreement, error) {
	return agreement.Agreement{}, nil
}

type stubAgreements struct {
	byToken func(context.Context, int64) (agreement.Agreement, error)
}

func (s *stubAgreements) GetByToken(ctx context.Context, id int64) (agreement.Agreement, error) {
	return s.byToken(ctx, id)
}

func (s *stubAgreements) GetByJob(context.Context, int64) (agreement.Agreement, error) {
	return agreement.Agreement{}, agreement.ErrNotFound
}

func (s *stubAgreements) ListByParty(context.Context, string) ([]agreement.Agreement, error) {
	return nil, nil
}

type stubProposals struct{}

func (stubProposals) Submit(context.Context, proposal.SubmitParams) (proposal.Proposal, error) {
	return proposal.Proposal{}, nil
}

func (stubProposals) List(context.Context, proposal.Filters) ([]proposal.Proposal, int, error) {
	return nil, 0, nil
}

func (stubProposals) Withdraw(context.Context, string, string) (proposal.Proposal, error) {
	return proposal.Proposal{}, nil
}

type stubWallets struct{}

func (stubWallets) Deposit(context.Context, string, int64) (wallet.Account, error) {
	return wallet.Account{}, nil
}

func (stubWallets) Balance(context.Context, string) (wallet.Account, error) {
	return wallet.Account{}, nil
}

func (stubWallets) EntriesByJob(context.Context, int64) ([]wallet.Entry, error) {
	return nil, nil
}

type stubSessions struct {
	address string
	role    auth.Role
}

func (stubSessions) Register(context.Context, auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{}, nil
}

func (stubSessions) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{}, nil
}

func (s stubSessions) VerifyToken(token string) (string, auth.Role, error) {
	if token != "good-token" {
		return "", "", auth.ErrInvalidCredentials
	}
	return s.address, s.role, nil
}

type stubDisputes struct{}

func (stubDisputes) List(context.Context, int64, string) ([]dispute.Record, error) {
	return nil, nil
}

func (stubDisputes) Resolve(context.Context, string, string) (dispute.Record, error) {
	return dispute.Record{}, nil
}

type stubRatings struct{}

func (stubRatings) ForFreelancer(context.Context, string) (rating.Summary, []rating.Record, error) {
	return rating.Summary{}, nil, nil
}

type stubProfiles struct{}

func (stubProfiles) Upsert(context.Context, profile.Profile) (profile.Profile, error) {
	return profile.Profile{}, nil
}

func (stubProfiles) GetByAddress(context.Context, string) (profile.Profile, error) {
	return profile.Profile{}, profile.ErrNotFound
}

func newTestServer(ledger *stubLedger, orch *stubOrch, ags *stubAgreements) *Server {
	if ledger == nil {
		ledger = &stubLedger{
			createFn: func(context.Context, escrow.CreateJobParams) (escrow.Job, error) {
				return escrow.Job{}, nil
			},
			getFn: func(context.Context, int64) (escrow.Job, error) {
				return escrow.Job{}, escrow.ErrJobNotFound
			},
			listFn: func(context.Context, escrow.Filters) ([]escrow.Job, int, error) {
				return nil, 0, nil
			},
		}
	}
	if orch == nil {
		orch = &stubOrch{
			acceptFn: func(context.Context, coordinator.AcceptParams) (coordinator.AcceptResult, error) {
				return coordinator.AcceptResult{}, nil
			},
			releaseFn: func(context.Context, coordinator.ReleaseParams) (escrow.Job, error) {
				return escrow.Job{}, nil
			},
		}
	}
	if ags == nil {
		ags = &stubAgreements{
			byToken: func(context.Context, int64) (agreement.Agreement, error) {
				return agreement.Agreement{}, agreement.ErrNotFound
			},
		}
	}
	return NewServer(
		ledger, orch, ags,
		stubProposals{}, stubWallets{},
		stubSessions{address: clientAddr, role: auth.RoleClient},
		stubDisputes{}, stubRatings{}, stubProfiles{}, nil,
	)
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateJobRequiresAuth(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs", "", `{"amount":100}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/jobs", "bad-token", `{"amount":100}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateJobUsesTokenAddress(t *testing.T) {
	var got escrow.CreateJobParams
	ledger := &stubLedger{
		createFn: func(_ context.Context, p escrow.CreateJobParams) (escrow.Job, error) {
			got = p
			return escrow.Job{ID: 7, Client: p.Client, Amount: p.Amount, Status: escrow.StatusOpen}, nil
		},
	}
	srv := newTestServer(ledger, nil, nil)

	body := `{"amount":5000,"deadline":"2026-10-01T00:00:00Z","title":"logo"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs", "good-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.Client != clientAddr {
		t.Errorf("client = %q, want token address", got.Client)
	}
	if got.Amount != 5000 {
		t.Errorf("amount = %d, want 5000", got.Amount)
	}
	if got.Deadline != time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("deadline = %v", got.Deadline)
	}
}

func TestCreateJobInsufficientFunds(t *testing.T) {
	ledger := &stubLedger{
		createFn: func(context.Context, escrow.CreateJobParams) (escrow.Job, error) {
			return escrow.Job{}, wallet.ErrInsufficientFunds
		},
	}
	srv := newTestServer(ledger, nil, nil)

	body := `{"amount":5000,"deadline":"2026-10-01T00:00:00Z"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs", "good-token", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestAcceptHappyPath(t *testing.T) {
	fl := freelancerAddr
	orch := &stubOrch{
		acceptFn: func(_ context.Context, p coordinator.AcceptParams) (coordinator.AcceptResult, error) {
			if p.Caller != clientAddr {
				t.Errorf("caller = %q, want token address", p.Caller)
			}
			if p.JobID != 42 {
				t.Errorf("job id = %d, want 42", p.JobID)
			}
			return coordinator.AcceptResult{
				Job: escrow.Job{ID: 42, Client: clientAddr, Freelancer: &fl, Status: escrow.StatusAssigned},
				Agreement: agreement.Agreement{
					TokenID: 1, JobID: 42, Client: clientAddr,
					Freelancer: fl, Status: agreement.StatusActive,
				},
			}, nil
		},
	}
	srv := newTestServer(nil, orch, nil)

	body := `{"freelancer":"` + freelancerAddr + `","token_uri":"ipfs://meta"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/42/accept", "good-token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Job       jobView       `json:"job"`
		Agreement agreementView `json:"agreement"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job.Status != "assigned" {
		t.Errorf("job status = %q, want assigned", resp.Job.Status)
	}
	if resp.Agreement.TokenID != 1 || resp.Agreement.JobID != 42 {
		t.Errorf("agreement = %+v", resp.Agreement)
	}
}

func TestAcceptPreconditionConflict(t *testing.T) {
	orch := &stubOrch{
		acceptFn: func(context.Context, coordinator.AcceptParams) (coordinator.AcceptResult, error) {
			return coordinator.AcceptResult{}, &escrow.PreconditionError{
				JobID: 42, Action: "assign", Rule: escrow.RuleWrongState,
			}
		},
	}
	srv := newTestServer(nil, orch, nil)

	body := `{"freelancer":"` + freelancerAddr + `"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/42/accept", "good-token", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp struct {
		Rule string `json:"rule"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Rule != "wrong_state" {
		t.Errorf("rule = %q, want wrong_state", resp.Rule)
	}
}

func TestAcceptPartialFailure(t *testing.T) {
	orch := &stubOrch{
		acceptFn: func(context.Context, coordinator.AcceptParams) (coordinator.AcceptResult, error) {
			return coordinator.AcceptResult{}, &coordinator.PartialAcceptanceFailure{
				JobID: 42, Err: agreement.ErrNotIssuer,
			}
		},
	}
	srv := newTestServer(nil, orch, nil)

	body := `{"freelancer":"` + freelancerAddr + `"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/42/accept", "good-token", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestReleaseForwardsRating(t *testing.T) {
	var got coordinator.ReleaseParams
	orch := &stubOrch{
		releaseFn: func(_ context.Context, p coordinator.ReleaseParams) (escrow.Job, error) {
			got = p
			return escrow.Job{ID: p.JobID, Status: escrow.StatusCompleted}, nil
		},
	}
	srv := newTestServer(nil, orch, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/9/release", "good-token", `{"rating":5,"comment":"great"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.Rating != 5 || got.Comment != "great" {
		t.Errorf("release params = %+v", got)
	}
	if got.Caller != clientAddr {
		t.Errorf("caller = %q, want token address", got.Caller)
	}
}

func TestReleaseWithoutBody(t *testing.T) {
	orch := &stubOrch{
		releaseFn: func(_ context.Context, p coordinator.ReleaseParams) (escrow.Job, error) {
			if p.Rating != 0 {
				t.Errorf("rating = %d, want 0", p.Rating)
			}
			return escrow.Job{ID: p.JobID, Status: escrow.StatusCompleted}, nil
		},
	}
	srv := newTestServer(nil, orch, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/9/release", "good-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/999", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetAgreementNotFound(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/agreements/123", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListAgreementsRequiresParty(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/agreements", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
