package response

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var EmptyRequestBodyResponse = Response{
	Status:  StatusError,
	Error:   "Empty Request Body",
	Message: "Request body is empty. Please provide necessary data.",
}

var BadRequestResponse = Response{
	Status:  StatusError,
	Error:   "Bad Request",
	Message: "The request could not be processed. Please check your input.",
}

var ResourceNotFoundResponse = Response{
	Status:  StatusError,
	Error:   "Resource Not Found",
	Message: "The requested resource was not found.",
}

var ServerErrorResponse = Response{
	Status:  StatusError,
	Error:   "Server Error",
	Message: "An internal server error occurred. Please try again later.",
}

type Response struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Details []any  `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func SuccessResponse(msg string, data ...any) Response {
	resp := Response{
		Status:  StatusSuccess,
		Message: msg,
	}

	if len(data) > 0 && data[0] != nil {
		resp.Data = data[0]
	}

	return resp
}

// ValidationFailedResponse reports a validation failure detected past request
// decoding, e.g. a TTL exceeding the configured maximum.
func ValidationFailedResponse(msg string) Response {
	return Response{
		Status:  StatusError,
		Error:   "Validation Error",
		Message: msg,
	}
}

type validationError struct {
	Field string `json:"field"`
	Value any    `json:"value"`
	Issue string `json:"issue"`
}

func getValidationErrors(err error) []validationError {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}

	var details []validationError

	for _, e := range validationErrs {
		detail := validationError{
			Field: e.Field(),
			Value: e.Value(),
		}

		switch e.Tag() {
		case "required":
			detail.Issue = "This field is required."
		case "url":
			detail.Issue = "Invalid url."
		case "min":
			detail.Issue = "Value is too small."
		case "max":
			detail.Issue = "Value is too large."
		default:
			detail.Issue = "Invalid value."
		}

		details = append(details, detail)
	}

	return details
}

func ValidationErrorResponse(err error) Response {
	resp := Response{
		Status:  StatusError,
		Error:   "Validation Error",
		Message: "The provided data is invalid. Please check your input.",
	}

	for _, detail := range getValidationErrors(err) {
		resp.Details = append(resp.Details, detail)
	}

	return resp
}
