package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"patients", "close"}, {"serve"}, {"migrate", "up"}, {"version"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	closeCmd, _, err := root.Find([]string{"patients", "close"})
	require.NoError(t, err)
	for _, flag := range []string{
		"url", "org-units-ids", "period", "tracker-program-id", "program-stage-ids",
		"closure-program-id", "time-of-reference", "pairs-de-value", "comments", "post", "report",
	} {
		assert.NotNil(t, closeCmd.Flags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "dev\n", out.String())
}

func TestClosePatientsRejectsNonNumericTimeOfReference(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"patients", "close",
		"--tracker-program-id", "P1",
		"--program-stage-ids", "CONSULT1",
		"--closure-program-id", "CLOSE1",
		"--time-of-reference", "ninety",
		"--pairs-de-value", "DE1-LTFU",
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time of reference")
}

func TestClosePatientsRejectsMissingStages(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"patients", "close",
		"--tracker-program-id", "P1",
		"--closure-program-id", "CLOSE1",
		"--time-of-reference", "90",
		"--pairs-de-value", "DE1-LTFU",
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing program stages IDs")
}
