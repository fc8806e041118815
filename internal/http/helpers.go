package http

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/bridge"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/hostwallet"
	"github.com/quantumauth-io/wc-bridge/internal/pairing"
	"github.com/quantumauth-io/wc-bridge/internal/securefile"
	"github.com/quantumauth-io/wc-bridge/internal/swap"
)

func isLoopbackRequest(r *http.Request) bool {
	ip := net.ParseIP(clientIP(r))
	return ip != nil && ip.IsLoopback()
}

func clientIP(r *http.Request) string {
	ra := r.RemoteAddr
	if h, _, err := net.SplitHostPort(ra); err == nil {
		return h
	}
	return ra
}

func isSafeLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

func normalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

var errorClasses = []struct {
	target error
	status int
	code   string
}{
	{pairing.ErrInvalidURI, http.StatusBadRequest, ErrCodeInvalidURI},
	{history.ErrInvalidSettings, http.StatusBadRequest, ErrCodeInvalidRequest},
	{swap.ErrNoRoute, http.StatusBadRequest, ErrCodeInvalidRequest},
	{bridge.ErrNoWalletConnected, http.StatusConflict, ErrCodeWalletNotConnected},
	{hostwallet.ErrNotConnected, http.StatusConflict, ErrCodeWalletNotConnected},
	{hostwallet.ErrUserRejected, http.StatusForbidden, ErrCodeUserRejected},
	{hostwallet.ErrNoProviderAvailable, http.StatusServiceUnavailable, ErrCodeWalletUnavailable},
	{hostwallet.ErrRequestFailed, http.StatusBadGateway, ErrCodeWalletError},
	{swap.ErrInvalidHash, http.StatusBadGateway, ErrCodeWalletError},
	{bridge.ErrConfiguration, http.StatusInternalServerError, ErrCodeConfiguration},
	{bridge.ErrConnectivity, http.StatusBadGateway, ErrCodeConnectivity},
	{bridge.ErrNotReady, http.StatusServiceUnavailable, ErrCodeNotReady},
	{bridge.ErrClosed, http.StatusServiceUnavailable, ErrCodeNotReady},
}

func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenSz)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WriteTokenFile stores the session token where local CLI clients can read it.
func WriteTokenFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirectoryPerm); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	if err := securefile.AtomicWriteFile(path, []byte(token+"\n"), constants.FilePerm); err != nil {
		return errors.Wrap(err, "write session token file")
	}
	return nil
}

// ReadTokenFile loads the session token written by a running daemon.
func ReadTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read session token file")
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errors.New("empty session token")
	}
	return token, nil
}
