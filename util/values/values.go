package values

type contextKey string

// Response status strings carried in the ServerResponse envelope.
const (
	Success        = "success"
	Created        = "created"
	Error          = "error"
	SystemErr      = "system_error"
	BadRequestBody = "bad_request"
	Unprocessable  = "unprocessable"
	NotAllowed     = "not_allowed"
	Conflict       = "conflict"
	NotFound       = "not_found"
	NotAuthorised  = "not_authorised"
	TokenExpired   = "token_expired"
	Unavailable    = "unavailable"
)

const (
	HeaderRequestSource = "X-Request-Source"
	HeaderRequestID     = "X-Request-ID"

	DefaultRequestSource = "web"
)

const ContextTracingKey contextKey = "tracing"
