package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// APIKeyHeader is the header the platform reads bot credentials from.
const APIKeyHeader = "X-API-KEY"

// ErrEmptyKey is returned when an API key provider has nothing to inject.
var ErrEmptyKey = errors.New("api key is empty")

// APIKeyProvider injects a pre-derived API key. Keys are derived locally,
// so no network calls are made.
type APIKeyProvider struct {
	key string
}

// NewAPIKeyProvider creates a provider for the given key.
func NewAPIKeyProvider(key string) *APIKeyProvider {
	return &APIKeyProvider{key: key}
}

func (p *APIKeyProvider) Token(ctx context.Context) (string, error) {
	if p == nil || p.key == "" {
		return "", ErrEmptyKey
	}
	return p.key, nil
}

// InjectHeader sets the X-API-KEY header.
func (p *APIKeyProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	key, err := p.Token(ctx)
	if err != nil {
		return err
	}
	if strings.ContainsAny(key, "\r\n") {
		return errors.New("api key contains a line break")
	}
	req.Header.Set(APIKeyHeader, key)
	return nil
}

// Close is a no-op for API key providers.
func (p *APIKeyProvider) Close() error {
	return nil
}
