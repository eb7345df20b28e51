package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Tool renders the capability as an MCP tool definition.
func (c Capability) Tool() mcptypes.Tool {
	opts := []mcptypes.ToolOption{mcptypes.WithDescription(c.Description)}
	for _, arg := range c.Arguments {
		var propOpts []mcptypes.PropertyOption
		if arg.Description != "" {
			propOpts = append(propOpts, mcptypes.Description(arg.Description))
		}
		if arg.Required {
			propOpts = append(propOpts, mcptypes.Required())
		}
		switch arg.Type {
		case ArgNumber, ArgInteger:
			opts = append(opts, mcptypes.WithNumber(arg.Name, propOpts...))
		case ArgBoolean:
			opts = append(opts, mcptypes.WithBoolean(arg.Name, propOpts...))
		default:
			opts = append(opts, mcptypes.WithString(arg.Name, propOpts...))
		}
	}
	return mcptypes.NewTool(c.Name, opts...)
}

// CapabilityFromTool reads a capability back from an advertised tool.
// Required arguments come first in declaration order, the rest sorted by name.
func CapabilityFromTool(tool mcptypes.Tool) Capability {
	capability := Capability{
		Name:        tool.Name,
		Description: tool.Description,
		ResultType:  "string",
	}

	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
		capability.Arguments = append(capability.Arguments, argumentFromProperty(name, tool.InputSchema.Properties[name], true))
	}

	var optional []string
	for name := range tool.InputSchema.Properties {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		capability.Arguments = append(capability.Arguments, argumentFromProperty(name, tool.InputSchema.Properties[name], false))
	}

	return capability
}

func argumentFromProperty(name string, prop any, required bool) Argument {
	arg := Argument{Name: name, Type: ArgString, Required: required}
	propMap, ok := prop.(map[string]any)
	if !ok {
		return arg
	}
	if t, ok := propMap["type"].(string); ok && t != "" {
		arg.Type = ArgType(t)
	}
	if desc, ok := propMap["description"].(string); ok {
		arg.Description = desc
	}
	return arg
}

// Catalogue is the ordered set of capabilities advertised by the server.
type Catalogue struct {
	capabilities []Capability
	byName       map[string]int
}

func NewCatalogue(capabilities ...Capability) *Catalogue {
	c := &Catalogue{byName: make(map[string]int, len(capabilities))}
	for _, capability := range capabilities {
		if _, dup := c.byName[capability.Name]; dup {
			continue
		}
		c.byName[capability.Name] = len(c.capabilities)
		c.capabilities = append(c.capabilities, capability)
	}
	return c
}

// CatalogueFromTools builds a catalogue from a ListTools response.
func CatalogueFromTools(tools []mcptypes.Tool) *Catalogue {
	capabilities := make([]Capability, 0, len(tools))
	for _, tool := range tools {
		capabilities = append(capabilities, CapabilityFromTool(tool))
	}
	return NewCatalogue(capabilities...)
}

func (c *Catalogue) Capabilities() []Capability {
	out := make([]Capability, len(c.capabilities))
	copy(out, c.capabilities)
	return out
}

func (c *Catalogue) Lookup(name string) (Capability, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Capability{}, false
	}
	return c.capabilities[idx], true
}

func (c *Catalogue) Names() []string {
	names := make([]string, len(c.capabilities))
	for i, capability := range c.capabilities {
		names[i] = capability.Name
	}
	return names
}

// Tools returns the catalogue as MCP tool definitions for the providers.
func (c *Catalogue) Tools() []mcptypes.Tool {
	tools := make([]mcptypes.Tool, len(c.capabilities))
	for i, capability := range c.capabilities {
		tools[i] = capability.Tool()
	}
	return tools
}

// Describe renders the catalogue for inclusion in a system instruction.
func (c *Catalogue) Describe() string {
	var b strings.Builder
	for _, capability := range c.capabilities {
		fmt.Fprintf(&b, "- %s: %s\n", capability.Name, capability.Description)
		for _, arg := range capability.Arguments {
			req := "optional"
			if arg.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", arg.Name, arg.Type, req, arg.Description)
		}
	}
	return b.String()
}

// Request validates raw arguments against the named capability's schema.
// Unknown capabilities yield ErrUnknownCapability; schema violations yield
// an *InvalidParamsError.
func (c *Catalogue) Request(name string, raw map[string]any) (InvocationRequest, error) {
	capability, ok := c.Lookup(name)
	if !ok {
		return InvocationRequest{}, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}

	declared := make(map[string]bool, len(capability.Arguments))
	req := InvocationRequest{Capability: name}
	for _, arg := range capability.Arguments {
		declared[arg.Name] = true
		value, present := raw[arg.Name]
		if !present || value == nil {
			if arg.Required {
				return InvocationRequest{}, invalidParams(name, "missing required argument %q", arg.Name)
			}
			continue
		}
		coerced, err := coerceArg(arg, value)
		if err != nil {
			return InvocationRequest{}, invalidParams(name, "%v", err)
		}
		req.Args = append(req.Args, ArgValue{Name: arg.Name, Type: arg.Type, Value: coerced})
	}

	var unknown []string
	for key := range raw {
		if !declared[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return InvocationRequest{}, invalidParams(name, "unexpected argument(s) %s", strings.Join(unknown, ", "))
	}

	return req, nil
}

func coerceArg(arg Argument, value any) (any, error) {
	switch arg.Type {
	case ArgString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a string, got %T", arg.Name, value)
		}
		return s, nil
	case ArgBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a boolean, got %T", arg.Name, value)
		}
		return b, nil
	case ArgNumber, ArgInteger:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a number, got %T", arg.Name, value)
		}
		if arg.Type == ArgInteger {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("argument %q must be an integer, got %v", arg.Name, f)
			}
			return int64(f), nil
		}
		return f, nil
	default:
		return value, nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
