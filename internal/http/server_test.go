package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/bridge"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/kvstore"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/pairing"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-session-token"

type fakeBridge struct {
	mu            sync.Mutex
	state         bridge.GlobalState
	apps          []sessions.ConnectedApp
	pairErr       error
	paired        []string
	disconnected  []string
	disconnectErr error
	clearedAll    bool
	initErr       error
	inits         int
}

func (f *fakeBridge) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return f.initErr
	}
	f.state = bridge.StateReady
	return nil
}

func (f *fakeBridge) State() bridge.GlobalState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBridge) Sessions() []sessions.ConnectedApp { return f.apps }

func (f *fakeBridge) Pair(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paired = append(f.paired, uri)
	return f.pairErr
}

func (f *fakeBridge) Disconnect(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, topic)
	return f.disconnectErr
}

func (f *fakeBridge) DisconnectAll(context.Context) error {
	f.clearedAll = true
	return nil
}

type fakeWallet struct {
	account    string
	chainID    uint64
	connectErr error
}

func (f *fakeWallet) Connect(context.Context) (string, error) {
	if f.connectErr != nil {
		return "", f.connectErr
	}
	return f.account, nil
}

func (f *fakeWallet) CurrentAccount(context.Context) (string, bool) {
	return f.account, f.account != ""
}

func (f *fakeWallet) CurrentChain(context.Context) (uint64, bool) {
	return f.chainID, f.chainID != 0
}

type fakeSwapper struct {
	req swap.Request
	err error
}

func (f *fakeSwapper) Execute(_ context.Context, req swap.Request) (history.TransactionRecord, error) {
	f.req = req
	if f.err != nil {
		return history.TransactionRecord{}, f.err
	}
	return history.TransactionRecord{ID: "rec-1", TxHash: "0xabc", Status: history.StatusPending, FromChain: req.FromChain}, nil
}

type harness struct {
	server  *Server
	bridge  *fakeBridge
	wallet  *fakeWallet
	swapper *fakeSwapper
	feed    *notice.Feed
	history *history.Store
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		bridge:  &fakeBridge{state: bridge.StateReady},
		wallet:  &fakeWallet{account: "0x1111111111111111111111111111111111111111", chainID: 137},
		swapper: &fakeSwapper{},
		feed:    notice.NewFeed(10),
		history: history.NewStore(kvstore.NewMemory()),
	}
	if opts.SessionToken == "" {
		opts.SessionToken = testToken
	}

	s, err := NewServer(Deps{
		Bridge:  h.bridge,
		Wallet:  h.wallet,
		History: h.history,
		Swapper: h.swapper,
		Notices: h.feed,
		Metrics: metrics.New(),
	}, opts)
	require.NoError(t, err)
	h.server = s
	return h
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set(SessionHeader, token) }
}

func withOrigin(origin string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Origin", origin) }
}

func fromRemote(addr string) reqOpt {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func withHost(host string) reqOpt {
	return func(r *http.Request) { r.Host = host }
}

func (h *harness) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = "127.0.0.1:40000"
	r.Host = "127.0.0.1:6137"
	for _, o := range opts {
		o(r)
	}

	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) apiResponse {
	t.Helper()

	var raw struct {
		apiResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.apiResponse
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLoopbackAndHostGuards(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(t, http.MethodGet, "/status", nil, fromRemote("10.0.0.5:5555"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/status", nil, withHost("wallet.example.com"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/status", nil, fromRemote("[::1]:5555"), withHost("localhost:6137"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMutatingEndpointsRequireToken(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(t, http.MethodPost, "/sessions/disconnect-all", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodPost, "/sessions/disconnect-all", nil, withToken("wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, h.bridge.clearedAll)

	w = h.do(t, http.MethodPost, "/sessions/disconnect-all", nil, withToken(testToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.bridge.clearedAll)
}

func TestGeneratedSessionToken(t *testing.T) {
	s, err := NewServer(Deps{
		Bridge:  &fakeBridge{},
		Wallet:  &fakeWallet{},
		History: history.NewStore(kvstore.NewMemory()),
		Swapper: &fakeSwapper{},
		Notices: notice.NewFeed(1),
	}, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.SessionToken())
}

func TestCORSAllowlist(t *testing.T) {
	h := newHarness(t, Options{AllowedOrigins: []string{"http://localhost:5173/"}})

	w := h.do(t, http.MethodGet, "/sessions", nil, withOrigin("http://LOCALHOST:5173"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = h.do(t, http.MethodGet, "/sessions", nil, withOrigin("https://evil.example"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodOptions, "/pair", nil, withOrigin("http://localhost:5173"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), SessionHeader)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(t, http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = h.do(t, http.MethodGet, "/pair", nil, withToken(testToken))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = h.do(t, http.MethodDelete, "/settings", nil, withToken(testToken))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Options{Version: "v1.2.3"})
	h.bridge.apps = []sessions.ConnectedApp{{Topic: "t1"}, {Topic: "t2"}}

	var got StatusResponse
	resp := decode(t, h.do(t, http.MethodGet, "/status", nil), &got)
	assert.True(t, resp.OK)
	assert.Equal(t, StatusResponse{
		State:    "ready",
		Account:  "0x1111111111111111111111111111111111111111",
		ChainID:  137,
		Sessions: 2,
		Version:  "v1.2.3",
	}, got)
}

func TestWalletConnect(t *testing.T) {
	h := newHarness(t, Options{})

	var got WalletConnectResponse
	resp := decode(t, h.do(t, http.MethodPost, "/wallet/connect", nil, withToken(testToken)), &got)
	assert.True(t, resp.OK)
	assert.Equal(t, h.wallet.account, got.Account)
	assert.Equal(t, 1, h.bridge.inits)
	assert.Equal(t, "ready", got.Bridge)
}

func TestWalletConnectSurvivesBridgeInitFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.bridge.state = bridge.StateUninitialized
	h.bridge.initErr = errors.Mark(errors.New("dial refused"), bridge.ErrConnectivity)

	var got WalletConnectResponse
	resp := decode(t, h.do(t, http.MethodPost, "/wallet/connect", nil, withToken(testToken)), &got)
	assert.True(t, resp.OK)
	assert.Equal(t, h.wallet.account, got.Account)
	assert.Equal(t, "uninitialized", got.Bridge)
	assert.Equal(t, 1, h.bridge.inits)
}

func TestWalletConnectFailureSkipsBridgeInit(t *testing.T) {
	h := newHarness(t, Options{})
	h.wallet.connectErr = errors.New("no wallet")

	w := h.do(t, http.MethodPost, "/wallet/connect", nil, withToken(testToken))
	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.Zero(t, h.bridge.inits)
}

func TestPair(t *testing.T) {
	h := newHarness(t, Options{})
	uri := "wc:abc@2?relay-protocol=irn&symKey=00"

	w := h.do(t, http.MethodPost, "/pair", pairRequest{URI: "  " + uri + " "}, withToken(testToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{uri}, h.bridge.paired)

	w = h.do(t, http.MethodPost, "/pair", pairRequest{}, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, RequestMissingURIText, decode(t, w, nil).Error)

	w = h.do(t, http.MethodPost, "/pair", `{"uri":"wc:x","extra":1}`, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, HTTPErrorInvalidJSONText, decode(t, w, nil).Error)
}

func TestPairErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid uri", errors.Wrap(pairing.ErrInvalidURI, "parse"), http.StatusBadRequest, ErrCodeInvalidURI},
		{"no wallet", bridge.ErrNoWalletConnected, http.StatusConflict, ErrCodeWalletNotConnected},
		{"config", errors.Wrap(bridge.ErrConfiguration, "relay project id is not set"), http.StatusInternalServerError, ErrCodeConfiguration},
		{"connectivity", errors.Wrap(errors.Mark(errors.New("dial refused"), bridge.ErrConnectivity), "pair"), http.StatusBadGateway, ErrCodeConnectivity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.bridge.pairErr = tc.err

			w := h.do(t, http.MethodPost, "/pair", pairRequest{URI: "wc:abc@2"}, withToken(testToken))
			assert.Equal(t, tc.status, w.Code)
			resp := decode(t, w, nil)
			assert.False(t, resp.OK)
			assert.Equal(t, tc.code, resp.Code)
		})
	}
}

func TestSessionsAndDisconnect(t *testing.T) {
	h := newHarness(t, Options{})
	h.bridge.apps = []sessions.ConnectedApp{{ID: "t1", Topic: "t1", Name: "Uniswap", ChainID: 1}}

	var apps []sessions.ConnectedApp
	decode(t, h.do(t, http.MethodGet, "/sessions", nil), &apps)
	require.Len(t, apps, 1)
	assert.Equal(t, "Uniswap", apps[0].Name)

	w := h.do(t, http.MethodPost, "/sessions/disconnect", disconnectRequest{Topic: "t1"}, withToken(testToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"t1"}, h.bridge.disconnected)

	w = h.do(t, http.MethodPost, "/sessions/disconnect", disconnectRequest{}, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.bridge.disconnectErr = errors.Wrap(errors.Mark(errors.New("socket closed"), bridge.ErrConnectivity), "disconnect t2")
	w = h.do(t, http.MethodPost, "/sessions/disconnect", disconnectRequest{Topic: "t2"}, withToken(testToken))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSettings(t *testing.T) {
	h := newHarness(t, Options{})

	var got history.Settings
	decode(t, h.do(t, http.MethodGet, "/settings", nil), &got)
	assert.Equal(t, history.DefaultSettings(), got)

	w := h.do(t, http.MethodPost, "/settings", history.Settings{Slippage: 0.5}, withToken(testToken))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.InDelta(t, 0.5, got.Slippage, 1e-9)
	assert.Equal(t, "auto", got.PreferredAggregator)

	w = h.do(t, http.MethodPost, "/settings", history.Settings{Slippage: 75}, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/settings", history.Settings{Slippage: 2})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactions(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.history.Add(history.TransactionRecord{TxHash: "0x01", FromChain: 1})
	require.NoError(t, err)
	_, err = h.history.Add(history.TransactionRecord{TxHash: "0x02", FromChain: 137})
	require.NoError(t, err)

	var list []history.TransactionRecord
	decode(t, h.do(t, http.MethodGet, "/transactions", nil), &list)
	require.Len(t, list, 2)
	assert.Equal(t, "0x02", list[0].TxHash)

	w := h.do(t, http.MethodPost, "/transactions/clear", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, h.history.List(), 2)

	w = h.do(t, http.MethodPost, "/transactions/clear", nil, withToken(testToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.history.List())
}

func TestSwapExecute(t *testing.T) {
	h := newHarness(t, Options{})
	req := swap.Request{
		Quote:     swap.Quote{Aggregator: "lifi", Route: swap.Route{To: "0x2222222222222222222222222222222222222222", Data: "0x"}},
		FromChain: 137,
		ToChain:   137,
	}

	var rec history.TransactionRecord
	w := h.do(t, http.MethodPost, "/swap/execute", req, withToken(testToken))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rec)
	assert.Equal(t, "0xabc", rec.TxHash)
	assert.Equal(t, "lifi", h.swapper.req.Quote.Aggregator)

	h.swapper.err = swap.ErrNoRoute
	w = h.do(t, http.MethodPost, "/swap/execute", req, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotices(t *testing.T) {
	h := newHarness(t, Options{})
	h.feed.Notify(notice.LevelInfo, "first")
	h.feed.Notify(notice.LevelSuccess, "second")

	var got []notice.Notice
	decode(t, h.do(t, http.MethodGet, "/notices", nil), &got)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Message)
}

func TestRateLimitPerIP(t *testing.T) {
	h := newHarness(t, Options{RequestsPerSecond: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/healthz", nil).Code)

	// a different loopback address has its own bucket
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil, fromRemote("127.0.0.2:40000")).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wcb_bridge_state")
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := t.TempDir() + "/nested/" + TokenFileName
	require.NoError(t, WriteTokenFile(path, "abc"))

	got, err := ReadTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = ReadTokenFile(t.TempDir() + "/missing")
	assert.Error(t, err)
}
