package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackway/internal/compiler"
	"trackway/internal/proto"
	"trackway/internal/transport"
)

const thermoSource = `
type Station = string;

@task("Read temperatures from weather stations and convert them between units on request")
export class Thermo extends Task<Station> {
    @hint("Convert a temperature in degrees celsius into degrees fahrenheit and return it")
    convert(celsius: number): number {
        return celsius * 1.8 + 32;
    }
}
`

func TestCallHandlerResolvesCapabilities(t *testing.T) {
	mod, err := compiler.Compile("thermo.ts", thermoSource, compiler.DefaultOptions())
	require.NoError(t, err)
	task, ok := mod.Task("Thermo")
	require.True(t, ok)
	handle := callHandler(mod, task)

	data, err := handle(context.Background(), proto.Call{Method: "convert"})
	require.NoError(t, err)
	var got compiler.Export
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "convert", got.Name)
	assert.Equal(t, "convert(arg0: number): number", got.Signature)
	assert.Contains(t, got.Hint, "fahrenheit")

	_, err = handle(context.Background(), proto.Call{Method: "boil"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"boil"`)
}

func TestRunRejectsUnknownTask(t *testing.T) {
	mod, err := compiler.Compile("thermo.ts", thermoSource, compiler.DefaultOptions())
	require.NoError(t, err)
	local, _ := transport.Pipe()
	err = Run(context.Background(), local, mod, "Missing", Options{})
	assert.ErrorIs(t, err, ErrUnknownTask)
}
