// Package models holds the API entities the bots exchange with the platform.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleRegular       Role = "REGULAR"
	RoleAutomated     Role = "AUTOMATED"
	RoleAdministrator Role = "ADMINISTRATOR"
)

type User struct {
	ID uuid.UUID `json:"id"`

	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`

	EmailAddress  string `json:"email_address" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`

	FreeBalance   decimal.Decimal `json:"free_balance" validate:"gte=0"`
	FrozenBalance decimal.Decimal `json:"frozen_balance" validate:"gte=0"`

	Password string  `json:"password"`
	Role     Role    `json:"role" validate:"required,oneof=REGULAR AUTOMATED ADMINISTRATOR"`
	APIKey   *string `json:"api_key"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CreateUserParams is the registration payload accepted by POST /users.
type CreateUserParams struct {
	FirstName     string `json:"first_name" validate:"required"`
	LastName      string `json:"last_name" validate:"required"`
	PhoneNumber   string `json:"phone_number" validate:"required"`
	EmailAddress  string `json:"email_address" validate:"required,email"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	Role          Role   `json:"role" validate:"required,oneof=REGULAR AUTOMATED ADMINISTRATOR"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
}

type TickerStatus string

const (
	TickerStatusOpen      TickerStatus = "OPEN"
	TickerStatusClosed    TickerStatus = "CLOSED"
	TickerStatusSuspended TickerStatus = "SUSPENDED"
)

type Ticker struct {
	ID     int64  `json:"id"`
	Base   string `json:"base" validate:"min=3,max=10"`
	Quote  string `json:"quote" validate:"min=3,max=10"`
	Symbol string `json:"symbol" validate:"min=3,max=10"`

	Ask    decimal.Decimal `json:"ask" validate:"gte=0"`
	Bid    decimal.Decimal `json:"bid" validate:"gte=0"`
	Last   decimal.Decimal `json:"last" validate:"gte=0"`
	Status TickerStatus    `json:"status" validate:"required,oneof=OPEN CLOSED SUSPENDED"`
}

// Payload is the envelope every API response is wrapped in.
type Payload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}
