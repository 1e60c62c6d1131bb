// Package errors classifies failures from external collaborators (model
// providers, search APIs) so callers can decide whether a failed round is
// worth retrying. The workflow core never retries on its own.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a caller should treat an error.
type Category int

const (
	// CategoryTransient indicates a retry of the same round will likely
	// succeed: rate limits, timeouts, provider outages.
	CategoryTransient Category = iota

	// CategoryPermanent indicates a retry won't help without a config
	// change: bad credentials, unknown model, unreachable endpoint.
	CategoryPermanent

	// CategoryInvalid indicates the input itself was rejected: a malformed
	// request, unparseable output, a payload failing validation.
	CategoryInvalid
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with an explicit category.
type CategorizedError struct {
	Err      error
	Category Category
	Context  string // operation being attempted
}

func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %v (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%v (category: %s)", e.Err, e.Category)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: context}
}

// Transient marks err as transient.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as permanent.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how err should be treated. Unknown errors are
// permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code == 408 || code == 429:
			return CategoryTransient
		case code >= 500:
			return CategoryTransient
		case code == 400 || code == 422:
			return CategoryInvalid
		default:
			return CategoryPermanent
		}
	}

	var jsonErr *JSONParseError
	if errors.As(err, &jsonErr) {
		return CategoryInvalid
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryInvalid
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether repeating the failed round may succeed.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsInvalid reports whether the failure was caused by rejected input.
func IsInvalid(err error) bool {
	return Categorize(err) == CategoryInvalid
}
