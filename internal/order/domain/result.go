package domain

import "net/http"

// Code classifies the outcome of a lifecycle command.
type Code string

const (
	CodeCreated          Code = "CREATED"
	CodeOK               Code = "OK"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeDeliveryError    Code = "DELIVERY_ERROR"
)

func (c Code) HTTPStatus() int {
	switch c {
	case CodeCreated:
		return http.StatusCreated
	case CodeOK:
		return http.StatusOK
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDeliveryError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
