//go:build cgo

package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core/engine"
)

func init() {
	windowBackends["libsql"] = func(t *testing.T) engine.QuotaStore {
		shared, err := openLibsql(context.Background(), config.QuotaConfig{URL: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = shared.Close() })
		return shared
	}
}
