// Package http serves the local control API of the bridge daemon.
package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/quantumauth-io/wc-bridge/internal/ratelimit"
	"github.com/quantumauth-io/wc-bridge/internal/swap"
)

type Deps struct {
	Bridge  Bridge
	Wallet  Wallet
	History History
	Swapper Swapper
	Notices NoticeFeed
	Metrics *metrics.Metrics
}

type Options struct {
	AllowedOrigins []string
	// SessionToken guards mutating endpoints. A random one is generated when empty.
	SessionToken      string
	RequestsPerSecond float64
	Burst             int
	Version           string
}

type Server struct {
	mux *http.ServeMux

	bridge  Bridge
	wallet  Wallet
	history History
	swapper Swapper
	notices NoticeFeed
	metrics *metrics.Metrics

	limiter        *ratelimit.MapLimiter
	sessionToken   string
	allowedOrigins map[string]struct{}
	version        string
}

func NewServer(deps Deps, opts Options) (*Server, error) {
	if deps.Bridge == nil || deps.Wallet == nil || deps.History == nil || deps.Swapper == nil || deps.Notices == nil {
		return nil, errors.New("http: missing dependency")
	}

	s := &Server{
		mux:     http.NewServeMux(),
		bridge:  deps.Bridge,
		wallet:  deps.Wallet,
		history: deps.History,
		swapper: deps.Swapper,
		notices: deps.Notices,
		metrics: deps.Metrics,
		limiter: ratelimit.New(opts.RequestsPerSecond, opts.Burst, 10*time.Minute),
		version: opts.Version,
	}

	s.sessionToken = strings.TrimSpace(opts.SessionToken)
	if s.sessionToken == "" {
		token, err := newSessionToken()
		if err != nil {
			return nil, errors.Wrap(err, "http: session token")
		}
		s.sessionToken = token
	}

	s.allowedOrigins = make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.allowedOrigins[o] = struct{}{}
	}

	s.mux.HandleFunc("/healthz", s.withReadGuards(requireMethod(http.MethodGet, s.handleHealth)))
	s.mux.HandleFunc("/status", s.withReadGuards(requireMethod(http.MethodGet, s.handleStatus)))
	s.mux.HandleFunc("/metrics", s.withReadGuards(requireMethod(http.MethodGet, s.metrics.Handler().ServeHTTP)))

	// Wallet & sessions
	s.mux.HandleFunc("/wallet/connect", s.withWriteGuards(requireMethod(http.MethodPost, s.handleWalletConnect)))
	s.mux.HandleFunc("/pair", s.withWriteGuards(requireMethod(http.MethodPost, s.handlePair)))
	s.mux.HandleFunc("/sessions", s.withReadGuards(requireMethod(http.MethodGet, s.handleSessions)))
	s.mux.HandleFunc("/sessions/disconnect", s.withWriteGuards(requireMethod(http.MethodPost, s.handleDisconnect)))
	s.mux.HandleFunc("/sessions/disconnect-all", s.withWriteGuards(requireMethod(http.MethodPost, s.handleDisconnectAll)))

	// Transactions & settings
	s.mux.HandleFunc("/transactions", s.withReadGuards(requireMethod(http.MethodGet, s.handleTransactions)))
	s.mux.HandleFunc("/transactions/clear", s.withWriteGuards(requireMethod(http.MethodPost, s.handleClearTransactions)))
	s.mux.HandleFunc("/settings", methods(map[string]Handler{
		http.MethodGet:     s.withReadGuards(s.handleGetSettings),
		http.MethodPost:    s.withWriteGuards(s.handleUpdateSettings),
		http.MethodOptions: s.withWriteGuards(s.handleUpdateSettings),
	}))
	s.mux.HandleFunc("/swap/execute", s.withWriteGuards(requireMethod(http.MethodPost, s.handleSwapExecute)))
	s.mux.HandleFunc("/notices", s.withReadGuards(requireMethod(http.MethodGet, s.handleNotices)))

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SessionToken is the value clients send in SessionHeader on mutating calls.
func (s *Server) SessionToken() string { return s.sessionToken }

// HANDLERS
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := StatusResponse{
		State:    s.bridge.State().String(),
		Sessions: len(s.bridge.Sessions()),
		Version:  s.version,
	}
	if acct, ok := s.wallet.CurrentAccount(r.Context()); ok {
		out.Account = acct
	}
	if chainID, ok := s.wallet.CurrentChain(r.Context()); ok {
		out.ChainID = chainID
	}
	writeOK(w, out)
}

func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	acct, err := s.wallet.Connect(r.Context())
	if err != nil {
		log.Warn("http: wallet connect failed", "error", err)
		writeError(w, err)
		return
	}
	// a connected wallet is what persisted sessions were waiting for
	if err := s.bridge.Initialize(r.Context()); err != nil {
		log.Warn("http: bridge initialization after wallet connect failed", "error", err)
	}
	writeOK(w, WalletConnectResponse{Account: acct, Bridge: s.bridge.State().String()})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.URI = strings.TrimSpace(req.URI)
	if req.URI == "" {
		writeFailure(w, http.StatusBadRequest, ErrCodeInvalidRequest, RequestMissingURIText)
		return
	}
	if err := s.bridge.Pair(r.Context(), req.URI); err != nil {
		log.Warn("http: pair failed", "error", err)
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.bridge.Sessions())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeFailure(w, http.StatusBadRequest, ErrCodeInvalidRequest, RequestMissingTopicText)
		return
	}
	if err := s.bridge.Disconnect(r.Context(), req.Topic); err != nil {
		// the local record is gone either way; report the peer failure
		log.Warn("http: disconnect incomplete", "topic", req.Topic, "error", err)
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleDisconnectAll(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.DisconnectAll(r.Context()); err != nil {
		log.Warn("http: disconnect all incomplete", "error", err)
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.history.List())
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(); err != nil {
		log.Error("http: clearing transaction history failed", "error", err)
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.history.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch history.Settings
	if !decodeJSONBody(w, r, &patch) {
		return
	}
	out, err := s.history.UpdateSettings(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) handleSwapExecute(w http.ResponseWriter, r *http.Request) {
	var req swap.Request
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rec, err := s.swapper.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, rec)
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.notices.Recent())
}
