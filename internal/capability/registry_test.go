package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-assistant/aria/internal/config"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return args, nil
	})
}

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "echo", Category: "utility", Enabled: true}
	require.NoError(t, r.Register(def, echoHandler()))

	data, err := r.Invoke(context.Background(), "echo", map[string]interface{}{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": "y"}, data)
}

func TestDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "echo", Category: "utility", Enabled: true}
	require.NoError(t, r.Register(def, echoHandler()))

	err := r.Register(def, echoHandler())
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestInvokeUnknownIsTypedError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "does_not_exist", nil)
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestInvokeDisabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "off", Category: "utility", Enabled: false}, echoHandler()))

	_, err := r.Invoke(context.Background(), "off", nil)
	assert.ErrorIs(t, err, ErrCapabilityDisabled)
	assert.False(t, r.Has("off"))
}

func TestHandlerErrorsAreWrapped(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(Definition{Name: "bad", Category: "utility", Enabled: true},
		HandlerFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, boom
		})))

	_, err := r.Invoke(context.Background(), "bad", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCatalogGroupsByCategory(t *testing.T) {
	r := NewRegistry()
	for _, cc := range config.DefaultCapabilities() {
		require.NoError(t, r.Register(DefinitionFromConfig(cc), echoHandler()))
	}

	catalog := r.Catalog()
	assert.Len(t, catalog["information"], 2)
	assert.Len(t, catalog["personal"], 1)
	assert.Equal(t, []string{"information", "personal", "utility"}, r.Categories())

	// Deterministic order within a category.
	assert.Equal(t, "get_weather", catalog["information"][0].Name)
	assert.Equal(t, "web_search", catalog["information"][1].Name)
}

func TestDefinitionsSkipsUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "echo", Category: "utility", Enabled: true}, echoHandler()))

	defs := r.Definitions([]string{"echo", "nope"})
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
}

func TestRateLimitExhaustion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "echo", Category: "utility", Enabled: true}, echoHandler()))
	// Tiny budget: burst floor is 10 tokens, so the 11th immediate call fails.
	r.SetRateLimit("echo", 1)

	var err error
	for i := 0; i < 11; i++ {
		_, err = r.Invoke(context.Background(), "echo", nil)
	}
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDefinitionToolSchema(t *testing.T) {
	def := Definition{
		Name:        "get_weather",
		Description: "weather",
		Parameters:  map[string]string{"location": "place"},
		Enabled:     true,
	}

	tool := def.Tool()
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, "get_weather", tool.Function.Name)
	require.Contains(t, tool.Function.Parameters.Properties, "location")
	assert.Equal(t, "string", tool.Function.Parameters.Properties["location"].Type)
}

func TestPersonalStoreRoundTrip(t *testing.T) {
	store, err := NewBadgerPersonalStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "u1", "My Car", "blue wagon"))

	v, found, err := store.Get(ctx, "u1", "my car")
	require.NoError(t, err)
	require.True(t, found, "keys are case-insensitive")
	assert.Equal(t, "blue wagon", v.Value)

	// Other users never see it.
	_, found, err = store.Get(ctx, "u2", "my car")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPersonalVarHandler(t *testing.T) {
	store, err := NewBadgerPersonalStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	handler := NewPersonalVarHandler(store)
	ctx := context.Background()

	// Store
	_, err = handler.Invoke(ctx, map[string]interface{}{
		UserIDArg: "u1", "key": "doctor", "value": "Dr. Reyes",
	})
	require.NoError(t, err)

	// Read back
	data, err := handler.Invoke(ctx, map[string]interface{}{
		UserIDArg: "u1", "key": "doctor",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Reyes", data.(map[string]interface{})["value"])

	// Missing identity is an error, not a cross-user read.
	_, err = handler.Invoke(ctx, map[string]interface{}{"key": "doctor"})
	assert.Error(t, err)
}

func TestDatetimeHandler(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	handler := NewDatetimeHandler(func() time.Time { return fixed })

	data, err := handler.Invoke(context.Background(), nil)
	require.NoError(t, err)

	m := data.(map[string]interface{})
	assert.Equal(t, fixed.Format(time.RFC3339), m["datetime"])
	assert.Equal(t, "Saturday, March 14, 2026", m["date"])
}

func TestArgString(t *testing.T) {
	_, err := argString(map[string]interface{}{}, "q")
	assert.Error(t, err)

	_, err = argString(map[string]interface{}{"q": 3}, "q")
	assert.Error(t, err)

	s, err := argString(map[string]interface{}{"q": "ok"}, "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}
