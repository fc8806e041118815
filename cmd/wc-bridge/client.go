package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	clientconfig "github.com/quantumauth-io/wc-bridge/cmd/wc-bridge/config"
	clienthttp "github.com/quantumauth-io/wc-bridge/internal/http"
)

// apiError is a failure reported by the daemon.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

type envelope struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
	Data  json.RawMessage `json:"data"`
}

// apiClient talks to the local API of a running daemon.
type apiClient struct {
	baseURL   string
	tokenPath string
	http      *http.Client
}

func newAPIClient(cfg *clientconfig.Config) (*apiClient, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	return &apiClient{
		baseURL:   "http://" + net.JoinHostPort(cfg.Client.LocalHost, cfg.Client.Port),
		tokenPath: cfg.TokenPath(clienthttp.TokenFileName),
		http:      &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		token, err := clienthttp.ReadTokenFile(c.tokenPath)
		if err != nil {
			return errors.Wrap(err, "is the daemon running? (wc-bridge serve)")
		}
		req.Header.Set(clienthttp.SessionHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// guards answer with plain text
		return &apiError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.OK {
		return &apiError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
