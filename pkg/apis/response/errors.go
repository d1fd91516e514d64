package response

var errors = map[ErrCode]string{
	ErrCodeMalformedJSON:       "The JSON you provided was not well-formed or did not validate against our published format.",
	ErrCodeRequestBody:         "Request body error",
	ErrCodeResourceExists:      "The resource %s already exists.",
	ErrCodeResourceNotFound:    "The resource %s was not found.",
	ErrCodeLegalActionNotFound: "Legal action not found.",
	ErrCodeVariableReadOnly:    "The variable %s is read-only.",
	ErrCodeTypeMismatch:        "The value does not match the type of variable %s.",
	ErrCodeNotConnected:        "The controller is not connected.",
	ErrCodeWriteRejected:       "The controller rejected the write to %s.",
}

// !!! IMPORTANT PLEASE READ FIRST !!!
// You SHOULD add new code at the end of enum firstly.

var ErrMalformedJSON = &responseError{
	Code:    ErrCodeMalformedJSON,
	Message: errors[ErrCodeMalformedJSON],
}

var ErrRequestBody = &responseError{
	Code:    ErrCodeRequestBody,
	Message: errors[ErrCodeRequestBody],
}

var ErrLegalActionNotFound = &responseError{
	Code:    ErrCodeLegalActionNotFound,
	Message: errors[ErrCodeLegalActionNotFound],
}

var ErrNotConnected = &responseError{
	Code:    ErrCodeNotConnected,
	Message: errors[ErrCodeNotConnected],
}
