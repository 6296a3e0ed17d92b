package tool

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/sjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var functionJSON = []byte(`{"type":"function"}`)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var parameterReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
}

// Definition describes a function the model may call. Only the contract is
// described here; executing the call is up to the caller.
type Definition struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the single arguments object.
	Parameters *jsonschema.Schema
}

// Option configures a Definition.
type Option = opts.Option[Definition]

// New creates a tool definition from the provided options. A name is required.
func New(options ...Option) (Definition, error) {
	var def Definition
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate reports whether the definition can be sent to the service.
func (d Definition) Validate() error {
	if !validName.MatchString(d.Name) {
		return fmt.Errorf("invalid tool name %q: must match %s", d.Name, validName)
	}
	if d.Parameters != nil && d.Parameters.Type != "" && d.Parameters.Type != "object" {
		return errors.New("tool parameters must be an object schema")
	}
	return nil
}

// MarshalJSON encodes the definition as an OpenAI-compatible function tool.
func (d Definition) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(functionJSON, "function.name", d.Name)
	if err != nil {
		return nil, err
	}
	if d.Description != "" {
		if result, err = sjson.SetBytes(result, "function.description", d.Description); err != nil {
			return nil, err
		}
	}
	params := d.Parameters
	if params == nil {
		params = &jsonschema.Schema{Type: "object", Properties: orderedmap.New[string, *jsonschema.Schema]()}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters for %s: %w", d.Name, err)
	}
	return sjson.SetRawBytes(result, "function.parameters", raw)
}

var (
	// Name sets the tool name.
	Name = opts.ForName[Definition, string]("Name")

	// Description sets the human readable explanation the model sees.
	Description = opts.ForName[Definition, string]("Description")
)

// Parameter adds a named property to the arguments schema, in call order.
func Parameter(name string, schema *jsonschema.Schema, required bool) Option {
	return opts.Type[Definition](func(o *Definition) error {
		if name == "" {
			return errors.New("parameter name is required")
		}
		if schema == nil {
			return fmt.Errorf("parameter %s has no schema", name)
		}
		if o.Parameters == nil {
			o.Parameters = &jsonschema.Schema{
				Type:       "object",
				Properties: orderedmap.New[string, *jsonschema.Schema](),
			}
		}
		o.Parameters.Properties.Set(name, schema)
		if required {
			o.Parameters.Required = append(o.Parameters.Required, name)
		}
		return nil
	})
}

// ParametersFrom reflects the arguments schema from the struct type T.
func ParametersFrom[T any]() Option {
	return opts.Type[Definition](func(o *Definition) error {
		var v T
		schema := parameterReflector.Reflect(v)
		if schema.Type != "object" {
			return fmt.Errorf("parameters type %T must be a struct", v)
		}
		schema.Version = ""
		o.Parameters = schema
		return nil
	})
}
