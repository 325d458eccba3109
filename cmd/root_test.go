package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/conf"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{Log: conf.LogSettings{Level: "info", Format: "json"}})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "simulate", "history"})
}

func TestRootFlagsUpdateSettings(t *testing.T) {
	settings := &conf.Settings{Log: conf.LogSettings{Level: "info", Format: "json"}}
	root := RootCommand(settings)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--log-level", "warn", "--log-format", "text", "history", "--limit", "0"})

	require.Error(t, root.Execute(), "the history command rejects the limit")
	assert.Equal(t, "warn", settings.Log.Level)
	assert.Equal(t, "text", settings.Log.Format)
}
