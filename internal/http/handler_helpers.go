package http

import (
	"net/http"
)

// Handler is a convenience type so we can wrap common behavior.
type Handler = http.HandlerFunc

func requireMethod(method string, next Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, HTTPErrorMethodNotAllowedText, http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// methods routes one path to a handler per HTTP method.
func methods(byMethod map[string]Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := byMethod[r.Method]
		if !ok {
			http.Error(w, HTTPErrorMethodNotAllowedText, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readJSONBody(r, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: HTTPErrorInvalidJSONText, Code: ErrCodeInvalidRequest})
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiResponse{OK: false, Error: msg, Code: code})
}

// writeError maps a domain error onto a status code and a stable error code.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeFailure(w, status, code, err.Error())
}
