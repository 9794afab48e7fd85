package pms

import "errors"

// Result is the uniform envelope returned to tool handlers.
type Result[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error half of Result.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// OK wraps a successful value.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// HandleError converts any error into a failed Result.
func HandleError[T any](err error) Result[T] {
	body := &ErrorBody{Code: CodeOf(err)}
	var pe *Error
	switch {
	case errors.As(err, &pe) && pe.Message != "":
		body.Message = pe.Message
	case err != nil:
		body.Message = err.Error()
	}
	return Result[T]{Success: false, Error: body}
}
