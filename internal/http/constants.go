package http

// HTTP error texts
const (
	HTTPErrorMethodNotAllowedText = "method not allowed"
	HTTPErrorInvalidJSONText      = "invalid JSON"
	HTTPErrorForbiddenText        = "forbidden"
	HTTPErrorForbiddenOriginText  = "forbidden origin"
	HTTPErrorForbiddenHostText    = "forbidden host"
	HTTPErrorUnauthorizedText     = "unauthorized"
	HTTPErrorTooManyRequestsText  = "too many requests"
)

// Request validation texts
const (
	RequestMissingURIText   = "missing uri"
	RequestMissingTopicText = "missing topic"
)

// Error codes carried in apiResponse.Code
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeInvalidURI         = "invalid_uri"
	ErrCodeWalletNotConnected = "wallet_not_connected"
	ErrCodeWalletUnavailable  = "wallet_unavailable"
	ErrCodeWalletError        = "wallet_error"
	ErrCodeUserRejected       = "user_rejected"
	ErrCodeConfiguration      = "configuration"
	ErrCodeConnectivity       = "connectivity"
	ErrCodeNotReady           = "not_ready"
	ErrCodeInternal           = "internal"
)

// Session token
const (
	SessionHeader  = "X-WCB-Session"
	TokenFileName  = "api_token"
	sessionTokenSz = 32
)
