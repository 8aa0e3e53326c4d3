package mockapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/models"
)

var errUserExists = errors.New("user already exists")

func (s *Server) getUserHandler(c echo.Context) error {
	s.getUser.Add(1)

	key := c.Request().Header.Get(auth.APIKeyHeader)
	if key == "" {
		return replyError(c, http.StatusUnauthorized, "unauthorized", "api key not found")
	}
	user, ok := s.lookup(key)
	if !ok {
		return replyError(c, http.StatusNotFound, "user not found", "no user for api key")
	}
	return reply(c, http.StatusOK, "user retrieved", user)
}

func (s *Server) createUserHandler(c echo.Context) error {
	s.createUser.Add(1)

	var params models.CreateUserParams
	if err := c.Bind(&params); err != nil {
		return replyError(c, http.StatusBadRequest, "invalid params", err.Error())
	}
	if err := models.ValidateCreateUser(params); err != nil {
		return replyError(c, http.StatusBadRequest, "invalid params", err.Error())
	}

	key := c.Request().Header.Get(auth.APIKeyHeader)
	if key != "" && key != identity.Credential(s.secret, params.EmailAddress) {
		return replyError(c, http.StatusUnauthorized, "unauthorized", "api key does not match email address")
	}

	user, err := s.register(params)
	switch {
	case errors.Is(err, errUserExists):
		return replyError(c, http.StatusConflict, "could not create user", err.Error())
	case err != nil:
		return replyError(c, http.StatusInternalServerError, "could not create user", err.Error())
	}
	return reply(c, http.StatusCreated, "user created", user)
}

func (s *Server) lookup(key string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byKey[key]
	if !ok {
		return models.User{}, false
	}
	return *user, true
}

func (s *Server) register(params models.CreateUserParams) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.cost)
	if err != nil {
		return models.User{}, err
	}
	key := identity.Credential(s.secret, params.EmailAddress)
	now := time.Now().UTC()
	user := &models.User{
		ID:            uuid.New(),
		FirstName:     params.FirstName,
		LastName:      params.LastName,
		PhoneNumber:   params.PhoneNumber,
		EmailAddress:  params.EmailAddress,
		WalletAddress: params.WalletAddress,
		FreeBalance:   decimal.Zero,
		FrozenBalance: decimal.Zero,
		Password:      string(hash),
		Role:          params.Role,
		APIKey:        &key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[params.EmailAddress]; exists {
		return models.User{}, errUserExists
	}
	s.byEmail[params.EmailAddress] = key
	s.byKey[key] = user
	return *user, nil
}

// CheckPassword reports whether password matches the stored hash of the
// user registered under email.
func (s *Server) CheckPassword(email, password string) bool {
	s.mu.RLock()
	key, ok := s.byEmail[email]
	var hash string
	if ok {
		hash = s.byKey[key].Password
	}
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
