package transport

// Protocol error and reason codes sent to peers.
const (
	CodeSessionNotFound   = 2
	CodeUserRejected      = 5000
	CodeUnsupportedChains = 5100
	CodeUserDisconnected  = 6000
	CodeLimitExceeded     = -32005
	CodeInternal          = -32603
)

func ReasonUserRejected(msg string) Reason {
	if msg == "" {
		msg = "User rejected."
	}
	return Reason{Code: CodeUserRejected, Message: msg}
}

func ReasonUnsupportedChains(msg string) Reason {
	return Reason{Code: CodeUnsupportedChains, Message: msg}
}

func ReasonUserDisconnected() Reason {
	return Reason{Code: CodeUserDisconnected, Message: "User disconnected."}
}

func ErrorResponse(id uint64, code int, msg string) Response {
	return Response{ID: id, Error: &RPCError{Code: code, Message: msg}}
}

func ResultResponse(id uint64, result []byte) Response {
	if len(result) == 0 {
		result = []byte("null")
	}
	return Response{ID: id, Result: result}
}
