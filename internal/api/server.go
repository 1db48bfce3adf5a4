// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"squadsflow-go/internal/ledger"
	"squadsflow-go/internal/orchestrator"
	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

const RequestIDHeader = "X-Request-ID"

type Server struct {
	orch       *orchestrator.Orchestrator
	principals map[string]solana.PublicKey
	gatherer   prometheus.Gatherer
	log        *zap.Logger
	router     *mux.Router

	// RequestTimeout bounds the context of each request when positive.
	RequestTimeout time.Duration
}

// NewServer builds the router. principals maps names usable in requests to
// keys; gatherer may be nil to disable /metrics.
func NewServer(orch *orchestrator.Orchestrator, principals map[string]solana.PublicKey, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{
		orch:       orch,
		principals: principals,
		gatherer:   gatherer,
		log:        log.Named("api"),
		router:     mux.NewRouter(),
	}

	r := s.router
	r.Use(s.requestID)
	r.HandleFunc("/multisigs", s.createMultisig).Methods("POST")
	r.HandleFunc("/multisigs/{address}", s.getMultisig).Methods("GET")
	r.HandleFunc("/multisigs/{address}/spending-limits", s.addSpendingLimit).Methods("POST")
	r.HandleFunc("/multisigs/{address}/proposals", s.propose).Methods("POST")
	r.HandleFunc("/multisigs/{address}/proposals", s.listProposals).Methods("GET")
	r.HandleFunc("/multisigs/{address}/proposals/{index}", s.getProposal).Methods("GET")
	r.HandleFunc("/multisigs/{address}/proposals/{index}/approve", s.vote(squads.VoteApprove)).Methods("POST")
	r.HandleFunc("/multisigs/{address}/proposals/{index}/reject", s.vote(squads.VoteReject)).Methods("POST")
	r.HandleFunc("/multisigs/{address}/proposals/{index}/execute", s.execute).Methods("POST")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type ctxKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		if s.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
			defer cancel()
		}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.log.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func invalid(format string, args ...interface{}) error {
	return badRequest{fmt.Errorf(format, args...)}
}

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, orchestrator.ErrUnknownSigner):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, orchestrator.ErrNotTracked):
		return http.StatusNotFound
	}
	if _, ok := squads.AsProgramError(err); ok {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	id := requestIDFrom(r.Context())
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("request_id", id), zap.Error(err))
	} else {
		s.log.Info("request rejected", zap.String("request_id", id), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("invalid request body: %v", err)
	}
	return nil
}

// key resolves a principal name or a base58 public key.
func (s *Server) key(ref string) (solana.PublicKey, error) {
	if k, ok := s.principals[ref]; ok {
		return k, nil
	}
	k, err := solana.PublicKeyFromBase58(ref)
	if err != nil {
		return solana.PublicKey{}, invalid("unknown principal or key %q", ref)
	}
	return k, nil
}

func (s *Server) keys(refs []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(refs))
	for _, ref := range refs {
		k, err := s.key(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func pathKey(r *http.Request) (solana.PublicKey, error) {
	addr := mux.Vars(r)["address"]
	k, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, invalid("invalid multisig address %q", addr)
	}
	return k, nil
}

func pathIndex(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["index"]
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("invalid transaction index %q", raw)
	}
	return index, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Server) createMultisig(w http.ResponseWriter, r *http.Request) {
	var req CreateMultisigRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	members, err := s.keys(req.Members)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(members) == 0 {
		s.fail(w, r, invalid("at least one member is required"))
		return
	}
	res, err := s.orch.CreateMultisig(r.Context(), orchestrator.InitializeParams{
		Members:   members,
		Threshold: req.Threshold,
		TimeLock:  req.TimeLock,
		Memo:      optional(req.Memo),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateMultisigResponse{
		Address:   res.Multisig.String(),
		CreateKey: res.CreateKey.String(),
		Vault:     res.Vault.String(),
		Signature: res.Signature.String(),
	})
}

func (s *Server) getMultisig(w http.ResponseWriter, r *http.Request) {
	multisig, err := pathKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.orch.Info(r.Context(), multisig)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewMultisigResponse(info))
}

func (s *Server) addSpendingLimit(w http.ResponseWriter, r *http.Request) {
	multisig, err := pathKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req SpendingLimitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	var mint solana.PublicKey
	if req.Mint != "" {
		if mint, err = solana.PublicKeyFromBase58(req.Mint); err != nil {
			s.fail(w, r, invalid("invalid mint %q", req.Mint))
			return
		}
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.fail(w, r, invalid("invalid amount %q", req.Amount))
		return
	}
	period, ok := squads.ParsePeriod(req.Period)
	if !ok {
		s.fail(w, r, invalid("invalid period %q", req.Period))
		return
	}
	members, err := s.keys(req.Members)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	destinations, err := s.keys(req.Destinations)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	units, err := s.orch.BaseUnits(r.Context(), mint, amount)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotMint) || errors.Is(err, orchestrator.ErrInvalidAmount) {
			err = badRequest{err}
		}
		s.fail(w, r, err)
		return
	}

	res, err := s.orch.AttachSpendingLimit(r.Context(), multisig, orchestrator.SpendingLimitParams{
		VaultIndex:   req.VaultIndex,
		Mint:         mint,
		Amount:       units,
		Period:       period,
		Members:      members,
		Destinations: destinations,
		Memo:         optional(req.Memo),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SpendingLimitResponse{
		Address:   res.Address.String(),
		CreateKey: res.CreateKey.String(),
		BaseUnits: units,
		Signature: res.Signature.String(),
	})
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request) {
	multisig, err := pathKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ProposeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proposer, err := s.key(req.Proposer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	instructions := make([]solana.Instruction, 0, len(req.Instructions))
	for _, ix := range req.Instructions {
		decoded, err := ix.decode()
		if err != nil {
			s.fail(w, r, badRequest{err})
			return
		}
		instructions = append(instructions, decoded)
	}

	res, err := s.orch.ProposeAndApprove(r.Context(), multisig, orchestrator.ProposalParams{
		Proposer:     proposer,
		VaultIndex:   req.VaultIndex,
		Instructions: instructions,
		Memo:         optional(req.Memo),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProposeResponse{
		Index:     res.Index,
		Vault:     res.Vault.String(),
		Signature: res.Signature.String(),
		Attempts:  res.Attempts,
	})
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	multisig, err := pathKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.orch.Tracked(r.Context(), multisig)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*ProposalResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewProposalResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// getProposal reports the on-chain proposal, merged with what this process
// tracked about it.
func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	multisig, err := pathKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.orch.Proposal(r.Context(), multisig, index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := NewProposalResponse(&store.Entry{
		Multisig:   multisig,
		Index:      index,
		Status:     p.Status,
		Approvals:  p.Approved,
		Rejections: p.Rejected,
	})
	resp.Tracked = false
	if e, err := s.orch.Entry(r.Context(), multisig, index); err == nil {
		resp.Tracked = true
		resp.Signature = e.Signature
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) voteTarget(r *http.Request) (solana.PublicKey, uint64, solana.PublicKey, error) {
	multisig, err := pathKey(r)
	if err != nil {
		return solana.PublicKey{}, 0, solana.PublicKey{}, err
	}
	index, err := pathIndex(r)
	if err != nil {
		return solana.PublicKey{}, 0, solana.PublicKey{}, err
	}
	var req VoteRequest
	if err := decode(r, &req); err != nil {
		return solana.PublicKey{}, 0, solana.PublicKey{}, err
	}
	member, err := s.key(req.Member)
	if err != nil {
		return solana.PublicKey{}, 0, solana.PublicKey{}, err
	}
	return multisig, index, member, nil
}

func (s *Server) vote(v squads.Vote) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		multisig, index, member, err := s.voteTarget(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var sig solana.Signature
		if v == squads.VoteReject {
			sig, err = s.orch.Reject(r.Context(), multisig, index, member)
		} else {
			sig, err = s.orch.Approve(r.Context(), multisig, index, member)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SignatureResponse{Signature: sig.String()})
	}
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	multisig, index, member, err := s.voteTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sig, err := s.orch.Execute(r.Context(), multisig, index, member)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SignatureResponse{Signature: sig.String()})
}
