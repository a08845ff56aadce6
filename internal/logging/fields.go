// Package logging provides structured logging utilities for the fireedge gateway.
package logging

// Standard field names for consistent logging across the gateway.
const (
	// FieldRequestID is a unique identifier for each HTTP request.
	FieldRequestID = "request_id"

	// FieldUser is the authenticated engine user name.
	FieldUser = "user"

	// FieldSessionID is the console session UUID.
	FieldSessionID = "session_id"

	// FieldResource is the backend resource type (vm, host, image, ...).
	FieldResource = "resource"

	// FieldCommand is the resolved gateway command ("vm.info").
	FieldCommand = "command"

	// FieldMethod is the HTTP or XML-RPC method.
	FieldMethod = "method"

	// FieldPath is the URL path of an HTTP request.
	FieldPath = "path"

	// FieldUpstream names the backend a call went to.
	FieldUpstream = "upstream"

	// FieldJobID is the provision job UUID.
	FieldJobID = "job_id"

	// FieldProvisionID is the backend provision ID.
	FieldProvisionID = "provision_id"

	// FieldDuration is the duration of an operation in milliseconds.
	FieldDuration = "duration_ms"

	// FieldStatusCode is the HTTP status code of a response.
	FieldStatusCode = "status_code"

	// FieldRemoteAddr is the client's remote address.
	FieldRemoteAddr = "remote_addr"

	// FieldUserAgent is the client's user agent string.
	FieldUserAgent = "user_agent"

	// FieldError is the error message or description.
	FieldError = "error"

	// FieldComponent identifies the component generating the log.
	FieldComponent = "component"
)
