package arenadto

// ErrorBody is the payload of an error event or an HTTP 4xx/5xx response.
type ErrorBody struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	LegalMoves []string `json:"legalMoves,omitempty"`
}

func (e ErrorBody) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}
