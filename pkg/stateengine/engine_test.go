package stateengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	engine, err := New(Config{})
	require.NoError(t, err)
	defer engine.Close()

	th, err := engine.CreateThread(context.Background(), "graph", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, th.ID)
}

func TestDefault(t *testing.T) {
	engine := Default()
	require.NotNil(t, engine)
	require.NoError(t, engine.Close())
}

func TestEngine_StateContainerAccess(t *testing.T) {
	engine := Default()
	defer engine.Close()

	container := engine.StateContainer()
	require.NotNil(t, container)

	contextID := container.CreateContext("tool-runner", CategoryBusiness)
	require.True(t, container.Set(contextID, CategoryBusiness, map[string]interface{}{
		"cursor": 10,
	}, 0))

	data, ok := container.Get(contextID, CategoryBusiness)
	require.True(t, ok)
	assert.Equal(t, 10, data["cursor"])
}

func TestEngine_CloseReleasesStore(t *testing.T) {
	engine := Default()
	require.NoError(t, engine.Close())

	// Saving through a closed engine's store fails.
	_, err := engine.CreateThread(context.Background(), "graph", nil, nil)
	assert.ErrorIs(t, err, ErrStorage)
}
