package mockapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/httpclient"
	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/mockapi"
	"github.com/0x-ximon/portman/bots/internal/ticks"
)

const secret = "s3cr3t"

func newServer(t *testing.T, opts mockapi.Options) (*mockapi.Server, *httpclient.API) {
	t.Helper()
	opts.Secret = secret
	opts.BcryptCost = bcrypt.MinCost
	if opts.TickInterval == 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	s := mockapi.New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	api, err := httpclient.NewAPI(srv.URL, httpclient.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	t.Cleanup(api.Close)
	return s, api
}

func botIdentity(t *testing.T, id int) identity.Identity {
	t.Helper()
	ident, err := identity.Derive(id, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return ident
}

func TestGetUserUnknownKey(t *testing.T) {
	_, api := newServer(t, mockapi.Options{})
	ident := botIdentity(t, 1)

	_, err := api.GetUser(context.Background(), auth.NewAPIKeyProvider(ident.Credential))
	var ferr *failure.Error
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *failure.Error, got %v", err)
	}
	if ferr.Kind != failure.KindAuthenticationRejected || ferr.StatusCode != http.StatusNotFound {
		t.Fatalf("got kind %s status %d, want authentication_rejected 404", ferr.Kind, ferr.StatusCode)
	}
}

func TestGetUserWithoutKey(t *testing.T) {
	s := mockapi.New(mockapi.Options{Secret: secret})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRegisterThenFetch(t *testing.T) {
	s, api := newServer(t, mockapi.Options{})
	ident := botIdentity(t, 7)
	provider := auth.NewAPIKeyProvider(ident.Credential)

	created, err := api.CreateUser(context.Background(), provider, bot.RegistrationParams(ident))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.EmailAddress != ident.Email {
		t.Errorf("email = %q, want %q", created.EmailAddress, ident.Email)
	}
	if created.APIKey == nil || *created.APIKey != ident.Credential {
		t.Errorf("api key not derived from the shared secret")
	}

	fetched, err := api.GetUser(context.Background(), provider)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if fetched.ID != created.ID {
		t.Errorf("fetched id %s, created id %s", fetched.ID, created.ID)
	}
	if !s.CheckPassword(ident.Email, ident.Password) {
		t.Errorf("stored password hash does not match")
	}
	if s.CheckPassword(ident.Email, "wrong-password") {
		t.Errorf("wrong password accepted")
	}
}

func TestCreateUserConflict(t *testing.T) {
	s, api := newServer(t, mockapi.Options{})
	ident := botIdentity(t, 3)
	if _, err := s.Seed(bot.RegistrationParams(ident)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	_, err := api.CreateUser(context.Background(), auth.NewAPIKeyProvider(ident.Credential), bot.RegistrationParams(ident))
	var ferr *failure.Error
	if !errors.As(err, &ferr) || ferr.Kind != failure.KindRegistrationRejected || ferr.StatusCode != http.StatusConflict {
		t.Fatalf("expected registration_rejected 409, got %v", err)
	}
	if s.Users() != 1 {
		t.Errorf("users = %d, want 1", s.Users())
	}
}

func TestCreateUserKeyMismatch(t *testing.T) {
	_, api := newServer(t, mockapi.Options{})
	ident := botIdentity(t, 4)

	_, err := api.CreateUser(context.Background(), auth.NewAPIKeyProvider(strings.Repeat("0", 64)), bot.RegistrationParams(ident))
	if failure.KindOf(err) != failure.KindRegistrationRejected {
		t.Fatalf("expected registration_rejected, got %v", err)
	}
}

func TestCreateUserInvalidParams(t *testing.T) {
	s := mockapi.New(mockapi.Options{Secret: secret})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/users", "application/json", strings.NewReader(`{"first_name":"x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListTickers(t *testing.T) {
	s, api := newServer(t, mockapi.Options{})
	list, err := api.ListTickers(context.Background())
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(list) != len(mockapi.DefaultTickers()) {
		t.Fatalf("got %d tickers, want %d", len(list), len(mockapi.DefaultTickers()))
	}
	if s.Counts().ListTickers != 1 {
		t.Errorf("ListTickers count = %d", s.Counts().ListTickers)
	}
}

func TestDropClosesConnection(t *testing.T) {
	ident := botIdentity(t, 2)
	_, api := newServer(t, mockapi.Options{
		Drop: func(key string) bool { return key == ident.Credential },
	})

	_, err := api.GetUser(context.Background(), auth.NewAPIKeyProvider(ident.Credential))
	if err == nil {
		t.Fatal("expected error for dropped connection")
	}
	if failure.KindOf(err) == failure.KindAuthenticationRejected {
		t.Fatalf("dropped connection must not look like a rejection: %v", err)
	}
}

func TestTickStream(t *testing.T) {
	s, api := newServer(t, mockapi.Options{})
	ident := botIdentity(t, 5)
	if _, err := s.Seed(bot.RegistrationParams(ident)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	w, err := ticks.NewWatcher(api.BaseURL(), "/tickers/ticks", api.Headers(), time.Second)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := w.Watch(ctx, ident.Credential, "BTCUSD", 3)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if n != 3 {
		t.Fatalf("received %d ticks, want 3", n)
	}
	if s.Counts().Streams != 1 {
		t.Errorf("streams = %d, want 1", s.Counts().Streams)
	}
}

func TestTickStreamRejectsUnknownKey(t *testing.T) {
	_, api := newServer(t, mockapi.Options{})
	w, err := ticks.NewWatcher(api.BaseURL(), "/tickers/ticks", api.Headers(), time.Second)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if _, err := w.Watch(context.Background(), "nope", "BTCUSD", 1); err == nil {
		t.Fatal("expected handshake failure")
	}
}
