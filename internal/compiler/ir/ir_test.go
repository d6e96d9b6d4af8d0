package ir

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// speedLimiterGraph mirrors flowbuilder's worked example, expressed as the
// wire-level DTOs an HTTP/CLI caller would actually send.
func speedLimiterGraph() ServiceGraph {
	return ServiceGraph{
		Service: "speed-limiter",
		Statements: []StatementDTO{
			{ID: "imp", Kind: "import", ImportName: "speed"},
			{ID: "throttle", Kind: "throttle", Dest: "limited", Src: "speed", Delta: 0.5},
			{ID: "exp1", Kind: "ident", Dest: "out1", Src: "limited", ExportTarget: "out1"},
			{ID: "exp2", Kind: "ident", Dest: "out2", Src: "limited", ExportTarget: "out2"},
		},
		Edges: []EdgeDTO{
			{From: "imp", To: "throttle"},
			{From: "throttle", To: "exp1"},
			{From: "throttle", To: "exp2"},
		},
		Imports: []string{"imp"},
		Exports: []string{"exp1", "exp2"},
	}
}

func TestBuildResolvesDTOsIntoAScheduledBuilder(t *testing.T) {
	sg := speedLimiterGraph()
	cfg := &config.Config{Propagation: config.OnChange, Para: true}

	builder, arrivals, err := Build(sg, cfg)
	require.NoError(t, err)
	require.NotNil(t, builder)

	// The channel import plus the synthesized service timeout; the service
	// delay is handled through its own match-arm path, never listed here.
	require.Len(t, arrivals, 2)
	assert.Equal(t, instr.ArrivingChannel, arrivals[0].Kind)
	assert.Equal(t, "speed", arrivals[0].Name)
	assert.Equal(t, instr.ArrivingServiceTimeout, arrivals[1].Kind)
}

func TestCompileProducesAServiceHandler(t *testing.T) {
	sg := speedLimiterGraph()
	cfg := &config.Config{Propagation: config.OnChange, Para: true}

	handler, err := Compile(sg, cfg)
	require.NoError(t, err)
	require.NotNil(t, handler)
	assert.Equal(t, "speed-limiter", handler.Service)
	assert.NotEmpty(t, handler.FlowHandlers)
}

func TestCompileTestdataServiceGraph(t *testing.T) {
	data, err := os.ReadFile("testdata/speed_limiter.json")
	require.NoError(t, err)

	var sg ServiceGraph
	require.NoError(t, json.Unmarshal(data, &sg))

	handler, err := Compile(sg, &config.Config{Propagation: config.EventIsles, Para: true})
	require.NoError(t, err)

	// One channel handler, one sample timer, one service timeout; the
	// sample statement makes "speed" stashable, so the delay handler is
	// present too.
	names := make([]string, 0, len(handler.FlowHandlers))
	for _, fh := range handler.FlowHandlers {
		names = append(names, fh.ArrivingFlow.Name)
	}
	assert.Contains(t, names, "speed")
	assert.Contains(t, names, "speed_sampled$timer")
	assert.Contains(t, names, "speed-limiter$timeout")
	assert.Contains(t, names, "speed-limiter$delay")

	// The handler round-trips through JSON unchanged, which is what both
	// the HTTP surface and the persisted JSONB column rely on.
	encoded, err := json.Marshal(handler)
	require.NoError(t, err)
	var decoded instr.ServiceHandler
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, handler.Service, decoded.Service)
	assert.Len(t, decoded.FlowHandlers, len(handler.FlowHandlers))
}

func TestBuildRejectsUnknownFlowWithHint(t *testing.T) {
	sg := speedLimiterGraph()
	sg.Statements[2].Src = "limted" // near-miss for "limited"
	cfg := &config.Config{Propagation: config.OnChange, Para: true}

	_, _, err := Build(sg, cfg)
	require.Error(t, err)

	var derr *errors.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "UNKNOWN_SYMBOL", derr.Code)
	assert.Equal(t, "limited", derr.Details["did_you_mean"])
}

func TestBuildRejectsUnknownEdgeReferences(t *testing.T) {
	sg := speedLimiterGraph()
	sg.Edges = append(sg.Edges, EdgeDTO{From: "imp", To: "nonexistent"})
	cfg := &config.Config{Propagation: config.OnChange, Para: true}

	_, _, err := Build(sg, cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "nonexistent")
}
