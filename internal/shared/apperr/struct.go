package apperr

type Kind string

type AppError struct {
	Kind   Kind
	Code   string            // machine-readable code for the JSON envelope
	Detail string            // optional human-readable detail
	Field  string            // single offending field (optional)
	Fields map[string]string // validation field errors (optional)
	Meta   map[string]any    // extra envelope values (product_id, available_stock, ...)
	Err    error             // internal error (for logs only)
}
