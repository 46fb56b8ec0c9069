package serde_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mbus/mbus/internal"
	"github.com/go-mbus/mbus/serde"
)

func TestRegistry(t *testing.T) {
	t.Run("nil decode function is rejected", func(t *testing.T) {
		_, err := serde.NewRegistry(nil)
		assert.Error(t, err)
	})

	registry, err := serde.NewRegistry(json.Unmarshal)
	require.NoError(t, err)

	require.NoError(t, registry.Register(
		internal.OrderPlaced{},
		internal.PlaceOrder{},
	))

	t.Run("registering the same type twice is fine", func(t *testing.T) {
		assert.NoError(t, registry.Register(internal.OrderPlaced{}))
	})

	t.Run("registering nil fails", func(t *testing.T) {
		assert.Error(t, registry.Register(nil))
	})

	t.Run("deserializes a payload by message name", func(t *testing.T) {
		evt := internal.OrderPlaced{OrderID: uuid.New(), Total: 250}

		data, err := json.Marshal(evt)
		require.NoError(t, err)

		decoded, err := registry.Deserialize(evt.Name(), data)
		require.NoError(t, err)
		assert.Equal(t, evt, decoded)
	})

	t.Run("unregistered name reports a deserialization error", func(t *testing.T) {
		_, err := registry.Deserialize("no_such_message", []byte(`{}`))
		assert.ErrorIs(t, err, serde.ErrDeserialize)
	})

	t.Run("malformed payload reports a deserialization error", func(t *testing.T) {
		_, err := registry.Deserialize(internal.OrderPlaced{}.Name(), []byte(`not-json`))
		assert.ErrorIs(t, err, serde.ErrDeserialize)
	})
}
