package core

import (
	"fmt"
	"strings"
)

// UnknownSupplierError reports an operation against a supplier with no
// queue or configuration. Fatal to the call, not to the process.
type UnknownSupplierError struct {
	Supplier string
}

func (e *UnknownSupplierError) Error() string {
	return fmt.Sprintf("unknown supplier: %s", e.Supplier)
}

// RateLimitError reports a denied request attempt. RetryAfterSeconds lets
// callers back off deterministically.
type RateLimitError struct {
	Supplier          string
	Violations        []string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s): retry after %ds",
		e.Supplier, strings.Join(e.Violations, ", "), e.RetryAfterSeconds)
}
