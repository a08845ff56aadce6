package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/models"
)

// Dispatcher resolves registry commands and runs them against the engine.
type Dispatcher struct {
	caller   Caller
	registry *Registry
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(caller Caller, registry *Registry) *Dispatcher {
	return &Dispatcher{caller: caller, registry: registry}
}

// Registry returns the command registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs resource/action for an HTTP request made with httpMethod.
func (d *Dispatcher) Dispatch(ctx context.Context, session, httpMethod, resource, action string, in Inputs) (interface{}, error) {
	command, err := d.registry.Lookup(resource, action)
	if err != nil {
		return nil, err
	}
	if command.HTTPMethod != httpMethod {
		return nil, fmt.Errorf("%w: %s %s/%s (expects %s)",
			models.ErrMethodNotAllowed, httpMethod, resource, action, command.HTTPMethod)
	}

	args, err := command.Args(in)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("dispatching engine command",
		zap.String(logging.FieldResource, resource),
		zap.String(logging.FieldCommand, command.Method))

	result, err := d.caller.Call(ctx, session, command.Method, args...)
	if err != nil {
		return nil, err
	}
	if command.filter != nil {
		result = command.filter(result)
	}
	return result, nil
}
