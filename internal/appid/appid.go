// Package appid loads the kektech app identity, falling back to the copy
// embedded in the binary when no .fulmen/app.yaml is found.
package appid

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/kektech/kektech/internal/assets/appidentity"
)

// DefaultEnvPrefix is used when the identity cannot be loaded.
const DefaultEnvPrefix = "KEKTECH_"

func init() {
	// FULMEN_APP_IDENTITY_PATH and explicit paths still take precedence.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity's environment variable prefix.
func EnvPrefix(ctx context.Context) string {
	identity, err := Get(ctx)
	if err != nil || identity == nil || identity.EnvPrefix == "" {
		return DefaultEnvPrefix
	}
	return identity.EnvPrefix
}

// Getenv reads the prefixed environment variable for name, e.g. ADMIN_TOKEN
// reads KEKTECH_ADMIN_TOKEN.
func Getenv(ctx context.Context, name string) string {
	return os.Getenv(EnvPrefix(ctx) + name)
}
