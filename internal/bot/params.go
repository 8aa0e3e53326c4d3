package bot

import (
	"fmt"

	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/models"
)

// RegistrationParams synthesizes the user a bot registers as. Every field
// is derived from the bot id, so re-running a fleet re-creates identical
// users.
func RegistrationParams(ident identity.Identity) models.CreateUserParams {
	return models.CreateUserParams{
		FirstName:     "Portman",
		LastName:      fmt.Sprintf("Bot %d", ident.BotID),
		PhoneNumber:   fmt.Sprintf("+1%010d", ident.BotID),
		EmailAddress:  ident.Email,
		WalletAddress: fmt.Sprintf("0x%040x", ident.BotID),
		Role:          models.RoleAutomated,
		Password:      ident.Password,
	}
}
