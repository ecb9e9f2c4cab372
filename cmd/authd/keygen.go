package main

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
)

const keygenBytes = 48

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print fresh signing and digest keys as env assignments",
		Long: `Print a new AUTH_SIGNING_KEY, AUTH_TOKEN_HMAC_KEY and
AUTH_PASETO_V4_SECRET_KEY_HEX, one KEY=value per line, followed by
AUTH_PASETO_V4_PUBLIC_KEY_HEX for services that only verify tokens.`,
		Args: cobra.NoArgs,
		RunE: runKeygen,
	}
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	signing, err := randomKey()
	if err != nil {
		return err
	}
	hmacKey, err := randomKey()
	if err != nil {
		return err
	}

	secret := tokens.GeneratePasetoKeyHex()
	public, err := tokens.PasetoPublicKeyHex(secret)
	if err != nil {
		return oops.Code("KEYGEN_FAILED").With("operation", "derive public key").Wrap(err)
	}

	cmd.Printf("AUTH_SIGNING_KEY=%s\n", signing)
	cmd.Printf("AUTH_TOKEN_HMAC_KEY=%s\n", hmacKey)
	cmd.Printf("AUTH_PASETO_V4_SECRET_KEY_HEX=%s\n", secret)
	cmd.Printf("AUTH_PASETO_V4_PUBLIC_KEY_HEX=%s\n", public)
	return nil
}

func randomKey() (string, error) {
	b := make([]byte, keygenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("KEYGEN_FAILED").With("operation", "read random").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
