// Package identity derives the deterministic identity of a bot.
//
// Every value here is a pure function of the bot id and the shared system
// secret, so a bot can re-authenticate across runs without persisted state.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	emailFormat    = "portman_bot#%d@system.local"
	passwordPrefix = "password:"
	passwordLength = 32
)

// ErrMissingSecret is returned when no system secret is available.
var ErrMissingSecret = errors.New("system secret is not set")

// Identity is the full set of values derived for one bot.
type Identity struct {
	BotID      int
	Email      string
	Credential string
	Password   string
}

// Email returns the registration email for a bot id.
func Email(botID int) string {
	return fmt.Sprintf(emailFormat, botID)
}

// Credential returns hex(HMAC-SHA256(secret, message)).
func Credential(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Derive computes the identity of botID under secret.
func Derive(botID int, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, ErrMissingSecret
	}
	email := Email(botID)
	return Identity{
		BotID:      botID,
		Email:      email,
		Credential: Credential(secret, email),
		Password:   Credential(secret, passwordPrefix+email)[:passwordLength],
	}, nil
}
