package engine

import "net/http"

// Engine error codes, as reported in the third element of a failed response.
const (
	CodeSuccess        = 0x0000
	CodeAuthentication = 0x0100
	CodeAuthorization  = 0x0200
	CodeNoExists       = 0x0400
	CodeAction         = 0x0800
	CodeXMLRPCAPI      = 0x1000
	CodeInternal       = 0x2000
	CodeAllocate       = 0x4000
	CodeLocked         = 0x8000
)

// StatusForCode maps an engine error code to the HTTP status the gateway
// answers with.
func StatusForCode(code int) int {
	switch code {
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNoExists:
		return http.StatusNotFound
	case CodeAction, CodeXMLRPCAPI, CodeAllocate:
		return http.StatusBadRequest
	case CodeLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
