package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for structured log fields, including sentinel errors, wrapped errors, and message-based
// heuristics.
func TestCategorizeError(t *testing.T) {
	// name: test case description; err: input error; want: expected ErrorCategory.
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"invalid token", ErrInvalidToken, ErrorCategoryInvalidToken},
		{"wrapped invalid token", fmt.Errorf("auth: %w", ErrInvalidToken), ErrorCategoryInvalidToken},
		{"over quota", ErrOverQuota, ErrorCategoryOverQuota},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"wrapped upstream failure", fmt.Errorf("feed: %w", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"circuit open in message", errors.New("circuit breaker open"), ErrorCategoryCircuitOpen},
		{"network in message", errors.New("connection refused"), ErrorCategoryNetwork},
		{"timeout in message", errors.New("request timeout"), ErrorCategoryTimeout},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unmarshal in message", errors.New("unmarshal feed body"), ErrorCategoryParsing},
		{"store in message", errors.New("store get failed"), ErrorCategoryCache},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
