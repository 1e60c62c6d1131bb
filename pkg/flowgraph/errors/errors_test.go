package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", CategoryTransient.String())
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "invalid", CategoryInvalid.String())
	assert.Equal(t, "unknown", Category(99).String())
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 408", &HTTPError{StatusCode: 408}, CategoryTransient},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 529", &HTTPError{StatusCode: 529}, CategoryTransient},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryInvalid},
		{"HTTP 422", &HTTPError{StatusCode: 422}, CategoryInvalid},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryPermanent},
		{"JSON parse error", &JSONParseError{Message: "unexpected token"}, CategoryInvalid},
		{"validation error", &ValidationError{Field: "sections"}, CategoryInvalid},
		{"timeout error", &TimeoutError{Operation: "decide", Duration: time.Second}, CategoryTransient},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"explicit category", Transient(errors.New("x"), "search"), CategoryTransient},
		{"unknown", errors.New("unknown"), CategoryPermanent},
		{"wrapped HTTP", fmt.Errorf("oracle: %w", &HTTPError{StatusCode: 503}), CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsRetryable(&HTTPError{StatusCode: 429}))
	assert.False(t, IsRetryable(&HTTPError{StatusCode: 401}))
	assert.True(t, IsInvalid(&ValidationError{Message: "bad"}))
	assert.False(t, IsInvalid(Permanent(errors.New("x"), "")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "HTTP 429 at /search: slow down",
		(&HTTPError{StatusCode: 429, Message: "slow down", Endpoint: "/search"}).Error())
	assert.Equal(t, "HTTP 500: oops", (&HTTPError{StatusCode: 500, Message: "oops"}).Error())
	assert.Equal(t, "validation error on title: empty", (&ValidationError{Field: "title", Message: "empty"}).Error())
	assert.Equal(t, "validation error: empty", (&ValidationError{Message: "empty"}).Error())
	assert.Equal(t, "timeout after 2s: search", (&TimeoutError{Operation: "search", Duration: 2 * time.Second}).Error())
	assert.Equal(t, "JSON parse error: eof", (&JSONParseError{Message: "eof"}).Error())

	inner := errors.New("boom")
	ce := Transient(inner, "decide")
	assert.Equal(t, "decide: boom (category: transient)", ce.Error())
	assert.ErrorIs(t, ce, inner)
	assert.Equal(t, "boom (category: permanent)", Permanent(inner, "").Error())
}
