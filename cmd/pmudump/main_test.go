package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_RejectsBadInvocations(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "zero port", args: []string{"-p", "0"}},
		{name: "port too large", args: []string{"-p", "70000"}},
		{name: "positional argument", args: []string{"somehost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			cmd := newRootCmd()
			cmd.SetErr(&stderr)
			cmd.SetOut(&stderr)
			cmd.SetArgs(tt.args)

			require.Error(t, cmd.Execute())
			assert.Contains(t, stderr.String(), "Usage:")
		})
	}
}
