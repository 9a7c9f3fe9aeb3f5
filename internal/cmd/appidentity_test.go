package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/kektech/kektech/internal/appid"
)

func TestAppIdentityLoading(t *testing.T) {
	identity, err := appid.Get(context.Background())
	if err != nil {
		t.Fatalf("Failed to load app identity: %v", err)
	}
	if identity == nil {
		t.Fatal("App identity is nil")
	}

	expectedFields := map[string]string{
		"Vendor":     identity.Vendor,
		"BinaryName": identity.BinaryName,
		"EnvPrefix":  identity.EnvPrefix,
		"ConfigName": identity.ConfigName,
	}
	for fieldName, value := range expectedFields {
		if value == "" {
			t.Errorf("App identity field %s is empty (expected: non-empty)", fieldName)
		}
	}

	if identity.EnvPrefix != "" && !strings.HasSuffix(identity.EnvPrefix, "_") {
		t.Errorf("Expected env_prefix to end with underscore, got '%s'", identity.EnvPrefix)
	}
}
