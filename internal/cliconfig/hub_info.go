package cliconfig

import (
	"fmt"
	"os"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
)

// LoadHubInfo fills HubID from the credentials file when it is not set,
// and checks that a credential source is configured: either Token or a
// TokenFile. The token file may not exist yet; the agent picks it up when
// it is written.
func LoadHubInfo(cfg *Config) error {
	var creds map[string]string
	if cfg.TokenFile != "" {
		b, err := os.ReadFile(cfg.TokenFile)
		switch {
		case err == nil:
			creds = fs.ParseEnvFile(b)
		case os.IsNotExist(err):
		default:
			return fmt.Errorf("read token file: %w", err)
		}
	}

	if cfg.Token == "" && cfg.TokenFile == "" {
		return invalid("token or token-file is required")
	}
	if cfg.HubID == "" {
		cfg.HubID = creds[fs.KeyMachineID]
	}
	if cfg.HubID == "" && !cfg.UseTokenFile() {
		return invalid("hub-id is required (or %s in the token file)", fs.KeyMachineID)
	}
	return nil
}

// UseTokenFile reports whether the bearer token comes from the token file.
// An explicit token wins.
func (c *Config) UseTokenFile() bool {
	return c.Token == "" && c.TokenFile != ""
}
