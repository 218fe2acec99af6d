// Package capability is the typed tool registry: every capability the
// model may invoke is registered at startup from the config catalog,
// and unknown names are a typed error rather than a runtime crash.
package capability

import (
	"context"
	"errors"

	"github.com/aria-assistant/aria/internal/config"
	"github.com/aria-assistant/aria/internal/inference"
)

var (
	// ErrUnknownCapability is returned for names not in the registry.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrCapabilityDisabled is returned for registered but disabled names.
	ErrCapabilityDisabled = errors.New("capability disabled")

	// ErrRateLimited is returned when a capability's budget is exhausted.
	ErrRateLimited = errors.New("capability rate limited")

	// ErrAlreadyRegistered is returned on duplicate registration.
	ErrAlreadyRegistered = errors.New("capability already registered")
)

// UserIDArg is the argument key carrying the authenticated caller's
// identity into user-scoped capabilities. The pipeline injects it; the
// model never supplies it.
const UserIDArg = "_user_id"

// Handler executes one capability invocation. Implementations return
// JSON-marshalable data or an error; they never panic across the API.
type Handler interface {
	Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// Definition is the static catalog entry for one capability.
type Definition struct {
	Name        string
	Category    string
	Description string
	UsageHint   string
	Parameters  map[string]string // name -> description
	UserScoped  bool
	Enabled     bool
}

// DefinitionFromConfig maps a config catalog entry to a Definition.
func DefinitionFromConfig(cc config.CapabilityConfig) Definition {
	return Definition{
		Name:        cc.Name,
		Category:    cc.Category,
		Description: cc.Description,
		UsageHint:   cc.UsageHint,
		Parameters:  cc.Parameters,
		UserScoped:  cc.UserScoped,
		Enabled:     cc.Enabled,
	}
}

// Tool converts the definition to the inference wire schema.
func (d Definition) Tool() inference.Tool {
	props := make(map[string]inference.ToolProperty, len(d.Parameters))
	for name, desc := range d.Parameters {
		props[name] = inference.ToolProperty{Type: "string", Description: desc}
	}
	return inference.Tool{
		Type: "function",
		Function: inference.ToolFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters: inference.ToolParameters{
				Type:       "object",
				Properties: props,
			},
		},
	}
}
