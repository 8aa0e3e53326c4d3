// Package auth supplies the credentials bots attach to API requests.
package auth

import (
	"context"
	"net/http"
)

// Provider defines the interface for authentication providers that can
// obtain credentials and inject them into HTTP requests.
type Provider interface {
	// Token returns the credential the provider injects.
	Token(ctx context.Context) (string, error)

	// InjectHeader injects the credential into the provided HTTP request.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}
