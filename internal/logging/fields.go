package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat
	FieldConnID    = "conn_id"
	FieldUserID    = "user_id"
	FieldRole      = "role"
	FieldClassID   = "class_id"
	FieldMessageID = "message_id"
	FieldOp        = "op"
	FieldErrorKind = "error_kind"

	FieldService   = "service"
	FieldComponent = "component"
)
