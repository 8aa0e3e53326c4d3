package bot

import (
	"testing"

	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/models"
)

func TestRegistrationParams(t *testing.T) {
	ident, err := identity.Derive(12, testSecret)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	p := RegistrationParams(ident)

	if p.LastName != "Bot 12" || p.PhoneNumber != "+10000000012" {
		t.Errorf("params = %+v", p)
	}
	if len(p.WalletAddress) != 42 {
		t.Errorf("wallet %q has length %d, want 42", p.WalletAddress, len(p.WalletAddress))
	}
	if p.Password != ident.Password {
		t.Error("password not taken from identity")
	}
	if err := models.ValidateCreateUser(p); err != nil {
		t.Errorf("ValidateCreateUser() error = %v", err)
	}
	if again := RegistrationParams(ident); again != p {
		t.Error("RegistrationParams is not deterministic")
	}
}
