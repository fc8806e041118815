package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/quantumauth-io/quantum-go-utils/log"
)

func (s *Server) withCORS(policy corsPolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originRaw := r.Header.Get("Origin")
		if originRaw != "" {
			origin := normalizeOrigin(originRaw)
			if origin == "" {
				http.Error(w, HTTPErrorForbiddenOriginText, http.StatusForbidden)
				return
			}

			if policy.allowedOrigins != nil {
				if _, ok := policy.allowedOrigins[origin]; !ok {
					http.Error(w, HTTPErrorForbiddenOriginText, http.StatusForbidden)
					return
				}
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			if policy.allowMethods != "" {
				w.Header().Set("Access-Control-Allow-Methods", policy.allowMethods)
			}

			if policy.allowHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", policy.allowHeaders)
			} else if reqHdrs := r.Header.Get("Access-Control-Request-Headers"); reqHdrs != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHdrs)
			}

			if policy.maxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", policy.maxAge))
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (s *Server) withLoopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, HTTPErrorForbiddenText, http.StatusForbidden)
			return
		}
		if !isSafeLocalHost(r.Host) {
			http.Error(w, HTTPErrorForbiddenHostText, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.Allow(ip, time.Now()) {
			log.Warn("http: rate limited", "ip", ip, "path", r.URL.Path)
			http.Error(w, HTTPErrorTooManyRequestsText, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) withSessionToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SessionHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.sessionToken)) != 1 {
			http.Error(w, HTTPErrorUnauthorizedText, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// withReadGuards serves read-only endpoints to allowlisted local origins without a token.
func (s *Server) withReadGuards(next http.HandlerFunc) http.HandlerFunc {
	cors := corsPolicy{
		allowedOrigins: s.allowedOrigins,
		allowMethods:   "GET,OPTIONS",
		allowHeaders:   "", // echo requested
		maxAge:         600,
	}
	return s.withCORS(cors, s.withRateLimit(s.withLoopbackOnly(next)))
}

// withWriteGuards additionally requires the per-process session token.
func (s *Server) withWriteGuards(next http.HandlerFunc) http.HandlerFunc {
	cors := corsPolicy{
		allowedOrigins: s.allowedOrigins,
		allowMethods:   "GET,POST,OPTIONS",
		allowHeaders:   "Content-Type," + SessionHeader,
		maxAge:         600,
	}
	return s.withCORS(cors, s.withRateLimit(s.withLoopbackOnly(s.withSessionToken(next))))
}
