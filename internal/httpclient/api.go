package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/models"
	"github.com/0x-ximon/portman/bots/internal/tracing"
)

// Operation names used for spans, failures and metrics.
const (
	OpGetUser     = "get user"
	OpCreateUser  = "create user"
	OpListTickers = "list tickers"
)

const (
	UsersPath   = "/users"
	TickersPath = "/tickers"

	maxBodyReadSize = 1024 * 1024
)

// Operations lists every API operation in report order.
func Operations() []string {
	return []string{OpGetUser, OpCreateUser, OpListTickers}
}

// GetUser fetches the user owning the API key injected by provider.
// A 4xx response is reported as failure.KindAuthenticationRejected.
func (a *API) GetUser(ctx context.Context, provider auth.Provider) (models.User, error) {
	var user models.User
	err := a.call(ctx, OpGetUser, http.MethodGet, UsersPath, provider, nil, func(status int, body []byte) error {
		if !isSuccess(status) {
			return failure.FromStatus(OpGetUser, failure.KindAuthenticationRejected, status, models.ErrorMessage(body))
		}
		parsed, err := models.ParseUser(body)
		if err != nil {
			return invalidBody(OpGetUser, status, err)
		}
		user = parsed
		return nil
	})
	return user, err
}

// CreateUser registers a user. Any non-2xx response is reported as
// failure.KindRegistrationRejected.
func (a *API) CreateUser(ctx context.Context, provider auth.Provider, params models.CreateUserParams) (models.User, error) {
	var user models.User
	body, err := NewJSONBody(params)
	if err != nil {
		return user, failure.Config(OpCreateUser, err)
	}
	err = a.call(ctx, OpCreateUser, http.MethodPost, UsersPath, provider, body, func(status int, body []byte) error {
		if !isSuccess(status) {
			return failure.Rejected(OpCreateUser, failure.KindRegistrationRejected, status, models.ErrorMessage(body))
		}
		parsed, err := models.ParseUser(body)
		if err != nil {
			return invalidBody(OpCreateUser, status, err)
		}
		user = parsed
		return nil
	})
	return user, err
}

// ListTickers returns the ticker directory. It needs no API key.
func (a *API) ListTickers(ctx context.Context) ([]models.Ticker, error) {
	var tickers []models.Ticker
	err := a.call(ctx, OpListTickers, http.MethodGet, TickersPath, nil, nil, func(status int, body []byte) error {
		if !isSuccess(status) {
			return failure.FromStatus(OpListTickers, failure.KindUnknown, status, models.ErrorMessage(body))
		}
		parsed, err := models.ParseTickers(body)
		if err != nil {
			return invalidBody(OpListTickers, status, err)
		}
		tickers = parsed
		return nil
	})
	return tickers, err
}

// call runs one request under its own deadline and span, then reports the
// classified result to the observer.
func (a *API) call(
	ctx context.Context,
	op, method, path string,
	provider auth.Provider,
	body BodySource,
	handle func(status int, body []byte) error,
) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartCallSpan(ctx, a.tracer, op, method, path)

	start := time.Now()
	status, data, err := a.do(ctx, op, method, path, provider, body)
	if err == nil {
		err = handle(status, data)
	}
	latency := time.Since(start)

	var result error
	if err != nil {
		result = failure.Classify(op, err)
	}
	if a.observer != nil {
		a.observer.RecordCall(op, latency, status, result)
	}
	tracing.EndSpan(span, result, attribute.Int("http.response.status_code", status))
	return result
}

func (a *API) do(
	ctx context.Context,
	op, method, path string,
	provider auth.Provider,
	body BodySource,
) (int, []byte, error) {
	if body == nil {
		body = emptyBodySource{}
	}
	reader, err := body.NewReader()
	if err != nil {
		return 0, nil, failure.Config(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(path), reader)
	if err != nil {
		_ = reader.Close()
		return 0, nil, failure.Config(op, err)
	}
	req.Header = a.headers.Clone()
	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = body.NewReader

	if provider != nil {
		if err := provider.InjectHeader(ctx, req); err != nil {
			return 0, nil, failure.Config(op, fmt.Errorf("inject api key: %w", err))
		}
	}
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func invalidBody(op string, status int, err error) *failure.Error {
	return &failure.Error{
		Kind:       failure.KindUnknown,
		Op:         op,
		StatusCode: status,
		Cause:      failure.CauseInvalidBody,
		Message:    err.Error(),
		Err:        err,
	}
}
