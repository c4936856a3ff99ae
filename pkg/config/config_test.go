package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "openai", cfg.Provider.Type)
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout.Std())
	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.False(t, cfg.Loop.StopOnToolError)
	assert.Equal(t, 1024, cfg.Bus.LogCapacity)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "assistant", cfg.Agents[0].ID)
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  host: 0.0.0.0
  port: 9000
provider:
  type: openai
  model: gpt-4o-mini
  timeout: 30s
loop:
  max_iterations: 5
  stop_on_tool_error: true
  thought_tags: [thinking, planning]
agents:
  - id: coordinator
    system_prompt: "You coordinate."
    subagents: [researcher]
  - id: researcher
    skills:
      - name: cite
        prompt: "Cite sources."
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address())
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout.Std())
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
	assert.True(t, cfg.Loop.StopOnToolError)
	assert.Equal(t, []string{"thinking", "planning"}, cfg.Loop.ThoughtTags)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, []string{"researcher"}, cfg.Agents[0].SubAgents)
	assert.Equal(t, "cite", cfg.Agents[1].Skills[0].Name)
}

func TestParseRejectsUnknownSubagent(t *testing.T) {
	_, err := Parse([]byte(`
agents:
  - id: coordinator
    subagents: [ghost]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestParseRejectsSelfDelegation(t *testing.T) {
	_, err := Parse([]byte(`
agents:
  - id: loop
    subagents: [loop]
`))
	require.Error(t, err)
}

func TestParseRejectsBadProvider(t *testing.T) {
	_, err := Parse([]byte(`
provider:
  type: carrier-pigeon
`))
	require.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`
provider:
  timeout: soonish
`))
	require.Error(t, err)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("STRAND_TEST_KEY", "sk-123")
	t.Setenv("STRAND_TEST_PORT", "9100")

	cfg, err := Parse([]byte(`
server:
  port: ${STRAND_TEST_PORT}
provider:
  api_key: ${STRAND_TEST_KEY}
  model: ${STRAND_TEST_MODEL:-gpt-4o-mini}
`))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sk-123", cfg.Provider.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
}

func TestExpandEnvInDataTypes(t *testing.T) {
	t.Setenv("STRAND_TEST_FLAG", "true")
	t.Setenv("STRAND_TEST_NUM", "42")

	out := ExpandEnvInData(map[string]any{
		"flag":  "${STRAND_TEST_FLAG}",
		"num":   "$STRAND_TEST_NUM",
		"plain": "untouched",
		"list":  []any{"${STRAND_TEST_NUM}"},
	}).(map[string]any)

	assert.Equal(t, true, out["flag"])
	assert.Equal(t, 42, out["num"])
	assert.Equal(t, "untouched", out["plain"])
	assert.Equal(t, []any{42}, out["list"])
}

func TestParseRejectsIncompleteMCPServer(t *testing.T) {
	_, err := Parse([]byte(`
tools:
  mcp:
    - name: files
`))
	require.Error(t, err)
}
