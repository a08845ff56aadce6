package engine

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"fireedge.io/gateway/models"
)

// Source says where a parameter value is read from.
type Source string

const (
	FromPath  Source = "path"
	FromQuery Source = "query"
	FromBody  Source = "body"
)

// ParamType is the XML-RPC type a parameter is coerced to.
type ParamType string

const (
	TypeInt     ParamType = "int"
	TypeBool    ParamType = "bool"
	TypeString  ParamType = "string"
	TypeIntList ParamType = "[]int"
)

// Param describes one positional argument of an engine method. A nil
// Default makes the parameter required.
type Param struct {
	Name    string      `json:"name"`
	From    Source      `json:"from"`
	Type    ParamType   `json:"type"`
	Default interface{} `json:"default"`
}

// Required reports whether the caller must supply the parameter.
func (p Param) Required() bool {
	return p.Default == nil
}

// Command binds a resource action to an engine method.
type Command struct {
	Resource   string  `json:"resource"`
	Action     string  `json:"action"`
	HTTPMethod string  `json:"http_method"`
	Method     string  `json:"method"`
	Params     []Param `json:"params"`

	// check validates the coerced arguments before the call.
	check func(args []interface{}) error

	// filter post-processes a successful result.
	filter func(result interface{}) interface{}
}

// Inputs carries the raw values of one HTTP request.
type Inputs struct {
	// ID is the :id path segment, empty when absent.
	ID    string
	Query url.Values
	Body  map[string]interface{}
}

// Args builds the positional argument list for the command.
func (c *Command) Args(in Inputs) ([]interface{}, error) {
	args := make([]interface{}, 0, len(c.Params))

	for _, p := range c.Params {
		raw, present := lookup(p, in)
		if !present {
			if p.Required() {
				return nil, fmt.Errorf("%w: missing parameter %q", models.ErrInvalidRequest, p.Name)
			}
			args = append(args, p.Default)
			continue
		}

		v, err := coerce(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", models.ErrInvalidRequest, p.Name, err)
		}
		args = append(args, v)
	}

	if c.check != nil {
		if err := c.check(args); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func lookup(p Param, in Inputs) (interface{}, bool) {
	switch p.From {
	case FromPath:
		if in.ID == "" {
			return nil, false
		}
		return in.ID, true
	case FromQuery:
		if in.Query == nil {
			return nil, false
		}
		values, ok := in.Query[p.Name]
		if !ok || len(values) == 0 {
			return nil, false
		}
		if p.Type == TypeIntList && len(values) > 1 {
			return strings.Join(values, ","), true
		}
		return values[0], true
	case FromBody:
		if in.Body == nil {
			return nil, false
		}
		v, ok := in.Body[p.Name]
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

func coerce(t ParamType, raw interface{}) (interface{}, error) {
	switch t {
	case TypeInt:
		return toStrictInt(raw)
	case TypeBool:
		return toBool(raw)
	case TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case map[string]interface{}:
			return TemplateString(v), nil
		case json.Number:
			return v.String(), nil
		case float64, bool, int, int64:
			return fmt.Sprint(v), nil
		}
		return nil, fmt.Errorf("expected string, got %T", raw)
	case TypeIntList:
		return toIntList(raw)
	}
	return nil, fmt.Errorf("unsupported parameter type %q", t)
}

func toStrictInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v.String())
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", raw)
}

func toBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", v)
		}
		return b, nil
	case json.Number:
		return v.String() != "0", nil
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("expected boolean, got %T", raw)
}

func toIntList(raw interface{}) ([]interface{}, error) {
	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		return nil, fmt.Errorf("expected list of integers, got %T", raw)
	}

	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		n, err := toStrictInt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Registry indexes commands by resource and action.
type Registry struct {
	commands map[string]map[string]*Command
}

// NewRegistry builds a registry from commands. Later duplicates win.
func NewRegistry(commands []*Command) *Registry {
	r := &Registry{commands: make(map[string]map[string]*Command)}
	for _, c := range commands {
		if r.commands[c.Resource] == nil {
			r.commands[c.Resource] = make(map[string]*Command)
		}
		r.commands[c.Resource][c.Action] = c
	}
	return r
}

// Lookup finds the command for resource and action.
func (r *Registry) Lookup(resource, action string) (*Command, error) {
	actions, ok := r.commands[resource]
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource %q", models.ErrUnknownCommand, resource)
	}
	cmd, ok := actions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no action %q", models.ErrUnknownCommand, resource, action)
	}
	return cmd, nil
}

// Resources returns the registered resource names, sorted.
func (r *Registry) Resources() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every command sorted by resource then action.
func (r *Registry) List() []*Command {
	var out []*Command
	for _, resource := range r.Resources() {
		actions := r.commands[resource]
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, actions[name])
		}
	}
	return out
}
