// Package api exposes the marketplace over HTTP. Handlers are a thin veneer:
// all authority lives in the escrow ledger, the registry and the coordinator.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "HTTP requests by route and status code.",
}, []string{"route", "code"})

var httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "http_request_duration_seconds",
	Help:    "HTTP request latency by route.",
	Buckets: prometheus.DefBuckets,
}, []string{"route"})

// JobLedger is the read/create slice of the escrow service used directly by
// handlers. Transitions go through the Orchestrator instead.
type JobLedger interface {
	CreateJob(ctx context.Context, params escrow.CreateJobParams) (escrow.Job, error)
	GetJob(ctx context.Context, jobID int64) (escrow.Job, error)
	ListJobs(ctx context.Context, filters escrow.Filters) ([]escrow.Job, int, error)
}

// Orchestrator drives every transition that leaves the open state.
type Orchestrator interface {
	AcceptProposal(ctx context.Context, params coordinator.AcceptParams) (coordinator.AcceptResult, error)
	Release(ctx context.Context, params coordinator.ReleaseParams) (escrow.Job, error)
	Dispute(ctx context.Context, jobID int64, caller, reason string) (escrow.Job, error)
	Reclaim(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	MarkDelivered(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	Remediate(ctx context.Context, jobID int64, tokenURI string) (agreement.Agreement, error)
}

// AgreementReader serves registry lookups.
type AgreementReader interface {
	GetByToken(ctx context.Context, tokenID int64) (agreement.Agreement, error)
	GetByJob(ctx context.Context, jobID int64) (agreement.Agreement, error)
	ListByParty(ctx context.Context, address string) ([]agreement.Agreement, error)
}

// ProposalInbox is the off-chain proposal surface.
type ProposalInbox interface {
	Submit(ctx context.Context, params proposal.SubmitParams) (proposal.Proposal, error)
	List(ctx context.Context, filters proposal.Filters) ([]proposal.Proposal, int, error)
	Withdraw(ctx context.Context, id, caller string) (proposal.Proposal, error)
}

// Wallets serves balances and deposits.
type Wallets interface {
	Deposit(ctx context.Context, address string, amount int64) (wallet.Account, error)
	Balance(ctx context.Context, address string) (wallet.Account, error)
	EntriesByJob(ctx context.Context, jobID int64) ([]wallet.Entry, error)
}

// Sessions issues and verifies API credentials.
type Sessions interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Disputes serves dispute bookkeeping reads and resolution notes.
type Disputes interface {
	List(ctx context.Context, jobID int64, party string) ([]dispute.Record, error)
	Resolve(ctx context.Context, disputeID, resolution string) (dispute.Record, error)
}

// Ratings serves the review side-channel reads.
type Ratings interface {
	ForFreelancer(ctx context.Context, freelancer string) (rating.Summary, []rating.Record, error)
}

// Profiles serves display metadata.
type Profiles interface {
	Upsert(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetByAddress(ctx context.Context, address string) (profile.Profile, error)
}

type Server struct {
	jobs       JobLedger
	orch       Orchestrator
	agreements AgreementReader
	proposals  ProposalInbox
	wallets    Wallets
	sessions   Sessions
	disputes   Disputes
	ratings    Ratings
	profiles   Profiles
	logger     *log.Logger
}

func NewServer(
	jobs JobLedger,
	orch Orchestrator,
	agreements AgreementReader,
	proposals ProposalInbox,
	wallets Wallets,
	sessions Sessions,
	disputes Disputes,
	ratings Ratings,
	profiles Profiles,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		jobs:       jobs,
		orch:       orch,
		agreements: agreements,
		proposals:  proposals,
		wallets:    wallets,
		sessions:   sessions,
		disputes:   disputes,
		ratings:    ratings,
		profiles:   profiles,
		logger:     logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id:[0-9]+}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id:[0-9]+}/ledger", s.handleJobLedger).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id:[0-9]+}/agreement", s.handleAgreementByJob).Methods(http.MethodGet)

	api.HandleFunc("/agreements", s.handleListAgreements).Methods(http.MethodGet)
	api.HandleFunc("/agreements/{tokenId:[0-9]+}", s.handleGetAgreement).Methods(http.MethodGet)

	api.HandleFunc("/proposals", s.handleListProposals).Methods(http.MethodGet)
	api.HandleFunc("/freelancers/{address}/ratings", s.handleFreelancerRatings).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{address}", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/disputes", s.handleListDisputes).Methods(http.MethodGet)

	priv := api.NewRoute().Subrouter()
	priv.Use(s.authenticate)

	priv.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/accept", s.handleAccept).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/deliver", s.handleDeliver).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/release", s.handleRelease).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/dispute", s.handleDispute).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/reclaim", s.handleReclaim).Methods(http.MethodPost)
	priv.HandleFunc("/jobs/{id:[0-9]+}/remediate", s.handleRemediate).Methods(http.MethodPost)

	priv.HandleFunc("/proposals", s.handleSubmitProposal).Methods(http.MethodPost)
	priv.HandleFunc("/proposals/{id}/withdraw", s.handleWithdrawProposal).Methods(http.MethodPost)

	priv.HandleFunc("/wallet/deposit", s.handleDeposit).Methods(http.MethodPost)
	priv.HandleFunc("/wallet/balance", s.handleBalance).Methods(http.MethodGet)

	priv.HandleFunc("/disputes/{id}/resolve", s.handleResolveDispute).Methods(http.MethodPost)

	priv.HandleFunc("/profile", s.handleUpsertProfile).Methods(http.MethodPut)

	return r
}

type contextKey string

const (
	ctxAddress contextKey = "address"
	ctxRole    contextKey = "role"
)

// callerAddress returns the authenticated wallet address placed in the
// request context by the auth middleware.
func callerAddress(r *http.Request) string {
	addr, _ := r.Context().Value(ctxAddress).(string)
	return addr
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody("missing bearer token"))
			return
		}

		address, role, err := s.sessions.VerifyToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxAddress, address)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
