package integrations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopIntegration struct{ name string }

func (n *nopIntegration) Name() string                    { return n.name }
func (n *nopIntegration) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (n *nopIntegration) Stop()                           {}

func TestRegistry(t *testing.T) {
	Register("zz-test", func(_ zerolog.Logger, raw json.RawMessage, _ Deps) (Integration, error) {
		var cfg struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return &nopIntegration{name: cfg.Name}, nil
	})

	f, ok := Get("zz-test")
	require.True(t, ok)
	inst, err := f(zerolog.Nop(), json.RawMessage(`{"name":"x"}`), Deps{})
	require.NoError(t, err)
	assert.Equal(t, "x", inst.Name())

	_, ok = Get("missing")
	assert.False(t, ok)
	assert.Contains(t, Names(), "zz-test")
	assert.Contains(t, All(), "zz-test")
}
