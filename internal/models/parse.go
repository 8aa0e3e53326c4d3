package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when a response body is not valid JSON.
	ErrInvalidJSON = errors.New("response body is not valid JSON")
	// ErrMissingData is returned when the envelope carries no data field.
	ErrMissingData = errors.New("response envelope has no data")
	// ErrMissingID is returned when a user has no id.
	ErrMissingID = errors.New("user id is required")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ParseUser decodes and validates the user inside an API envelope.
func ParseUser(body []byte) (User, error) {
	raw, err := envelopeData(body)
	if err != nil {
		return User{}, err
	}
	var user User
	if err := json.Unmarshal([]byte(raw.Raw), &user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if err := ValidateUser(user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ValidateUser checks the invariants of a user snapshot.
func ValidateUser(user User) error {
	if user.ID == uuid.Nil {
		return ErrMissingID
	}
	if err := validate.Struct(user); err != nil {
		return fmt.Errorf("validate user: %w", err)
	}
	return nil
}

// ValidateCreateUser checks a registration payload before it is sent.
func ValidateCreateUser(params CreateUserParams) error {
	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("validate registration: %w", err)
	}
	return nil
}

// ParseTickers decodes and validates the ticker list inside an API envelope.
// Tickers failing validation are skipped.
func ParseTickers(body []byte) ([]Ticker, error) {
	raw, err := envelopeData(body)
	if err != nil {
		return nil, err
	}
	if !raw.IsArray() {
		return nil, fmt.Errorf("decode tickers: expected array, got %s", raw.Type)
	}
	var tickers []Ticker
	var skipped []string
	for idx, item := range raw.Array() {
		var ticker Ticker
		if err := json.Unmarshal([]byte(item.Raw), &ticker); err != nil {
			skipped = append(skipped, fmt.Sprintf("index %d: %v", idx, err))
			continue
		}
		if err := validate.Struct(ticker); err != nil {
			skipped = append(skipped, fmt.Sprintf("index %d: %v", idx, err))
			continue
		}
		tickers = append(tickers, ticker)
	}
	if len(tickers) == 0 && len(skipped) > 0 {
		return nil, fmt.Errorf("decode tickers: %s", strings.Join(skipped, "; "))
	}
	return tickers, nil
}

// ErrorMessage extracts a human-readable message from an error envelope.
// It falls back to the trimmed body when the envelope is not JSON.
func ErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		errText := gjson.GetBytes(body, "error").String()
		msg := gjson.GetBytes(body, "message").String()
		switch {
		case msg != "" && errText != "":
			return msg + ": " + errText
		case errText != "":
			return errText
		case msg != "":
			return msg
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

func envelopeData(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidJSON
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, ErrMissingData
	}
	return data, nil
}
