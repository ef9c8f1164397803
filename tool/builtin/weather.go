// Package builtin provides the tools the assistant ships with: weather
// lookups, unit conversion, and sandbox-backed shell and file access.
package builtin

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/sandchat/sandchat/tool"
)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=The location to get the weather for"`
}

// NewWeatherTool returns the demo weather tool. Temperatures are derived from
// a hash of the location so repeated calls for the same place agree.
func NewWeatherTool() *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"weather",
		"Get the weather in a location (in Fahrenheit)",
		weatherArgs{},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			return map[string]any{
				"location":    location,
				"temperature": temperatureFor(location),
			}, nil
		},
	)
}

func temperatureFor(location string) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(location))))
	return 62 + int(h.Sum32()%21)
}

type convertArgs struct {
	Temperature float64 `json:"temperature" jsonschema:"description=The temperature in fahrenheit to convert"`
}

// NewConvertFahrenheitToCelsiusTool returns the fahrenheit-to-celsius
// conversion tool.
func NewConvertFahrenheitToCelsiusTool() *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"convert_fahrenheit_to_celsius",
		"Convert a temperature in fahrenheit to celsius",
		convertArgs{},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			fahrenheit, _ := args["temperature"].(float64)
			celsius := (fahrenheit - 32) * 5 / 9
			return map[string]any{
				"celsius": celsius,
			}, nil
		},
	)
}
