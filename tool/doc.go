/*
Package tool describes functions a model may call during a completion.

Only the contract travels through a request: a name, a description and a JSON
schema for the arguments object. Executing a call the model emits is left to
the caller, which receives the calls as messages.ToolCall records when a
stream completes.

# Defining tools

Parameters can be declared one by one, in the order they should appear in the
schema:

	weather, err := tool.New(
		tool.Name("get_weather"),
		tool.Description("Current weather for a city"),
		tool.Parameter("city", &jsonschema.Schema{Type: "string"}, true),
	)

or reflected from a struct:

	type lookupArgs struct {
		Query string `json:"query" jsonschema:"description=search terms"`
	}

	lookup, err := tool.New(tool.Name("lookup"), tool.ParametersFrom[lookupArgs]())
*/
package tool
