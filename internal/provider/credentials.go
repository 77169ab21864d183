package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/kotae/internal/models"
)

// Credentials resolves an API key at call time so a missing key surfaces on
// first use instead of at startup.
type Credentials struct {
	// Explicit is a configured key; it wins over the environment.
	Explicit string
	// EnvVar names the environment variable holding the key.
	EnvVar string
}

// Key returns the key for a call made with ctx: a request-scoped key
// (models.WithAPIKey) first, then Explicit, then EnvVar. A missing key is a
// configuration error.
func (c Credentials) Key(ctx context.Context) (string, error) {
	if k := models.APIKeyFromContext(ctx); k != "" {
		return k, nil
	}
	if c.Explicit != "" {
		return c.Explicit, nil
	}
	if c.EnvVar != "" {
		if k := os.Getenv(c.EnvVar); k != "" {
			return k, nil
		}
	}
	name := c.EnvVar
	if name == "" {
		name = "an API key variable"
	}
	return "", models.NewError(models.KindConfiguration, "", fmt.Errorf("missing API key: set %s or supply a key with the request", name))
}
