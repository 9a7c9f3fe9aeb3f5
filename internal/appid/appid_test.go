package appid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/kektech/kektech/internal/assets/appidentity"
)

func prepareIdentityForTest(t *testing.T) {
	t.Helper()

	// Ensure per-test isolation.
	//
	// gofulmen caches identity per-process, and embedded identity registration is
	// also stored globally. Reset clears both.
	appidentity.Reset()

	// Re-register embedded identity so standalone behavior is always available
	// in tests.
	if err := appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML); err != nil {
		t.Fatalf("RegisterEmbeddedIdentityYAML: %v", err)
	}

	t.Cleanup(func() { appidentity.Reset() })
}

func TestGet_EmbeddedIdentityFallbackOutsideRepo(t *testing.T) {
	prepareIdentityForTest(t)
	t.Setenv(appidentity.EnvIdentityPath, "")

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	outside := t.TempDir()
	if err := os.Chdir(outside); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	identity, err := Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if identity.BinaryName != "kektech" {
		t.Fatalf("expected BinaryName kektech, got %q", identity.BinaryName)
	}
	if identity.EnvPrefix != "KEKTECH_" {
		t.Fatalf("expected EnvPrefix KEKTECH_, got %q", identity.EnvPrefix)
	}
	if identity.ConfigName != "kektech" {
		t.Fatalf("expected ConfigName kektech, got %q", identity.ConfigName)
	}
}

func TestGet_EnvVarRemainsAuthoritative(t *testing.T) {
	prepareIdentityForTest(t)

	missing := filepath.Join(t.TempDir(), "missing-app.yaml")
	t.Setenv(appidentity.EnvIdentityPath, missing)

	_, err := Get(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}

	var notFound *appidentity.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestGetenvUsesIdentityPrefix(t *testing.T) {
	prepareIdentityForTest(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	t.Setenv("KEKTECH_ADMIN_TOKEN", "s3cret")

	if got := EnvPrefix(context.Background()); got != "KEKTECH_" {
		t.Fatalf("expected KEKTECH_, got %q", got)
	}
	if got := Getenv(context.Background(), "ADMIN_TOKEN"); got != "s3cret" {
		t.Fatalf("expected s3cret, got %q", got)
	}
}

func TestEnvPrefixFallsBackWhenIdentityMissing(t *testing.T) {
	prepareIdentityForTest(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "missing-app.yaml"))

	if got := EnvPrefix(context.Background()); got != DefaultEnvPrefix {
		t.Fatalf("expected %q, got %q", DefaultEnvPrefix, got)
	}
}
