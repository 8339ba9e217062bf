package operations

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func TestParseKeyValuePairs(t *testing.T) {
	parsed, err := parseKeyValuePairs([]string{"subnet-1=us-west-2a", "subnet-2=us-west-2b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"subnet-1": "us-west-2a",
		"subnet-2": "us-west-2b",
	}, parsed)

	parsed, err = parseKeyValuePairs(nil)
	require.NoError(t, err)
	assert.Empty(t, parsed)

	for _, bad := range []string{"subnet-1", "=us-west-2a", "subnet-1="} {
		_, err = parseKeyValuePairs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRequireStringFlags(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String(instanceFlagName, "", "")
	set.String(targetVPCFlagName, "", "")
	require.NoError(t, set.Parse([]string{"--" + instanceFlagName, "i-123"}))
	c := cli.NewContext(nil, set, nil)

	assert.NoError(t, requireStringFlags(instanceFlagName)(c))
	err := requireStringFlags(instanceFlagName, targetVPCFlagName)(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), targetVPCFlagName)
}

func TestCommandsAreRegistered(t *testing.T) {
	for _, cmd := range []cli.Command{Migrate(), Report(), Status(), Clean()} {
		assert.NotEmpty(t, cmd.Name)
		assert.NotEmpty(t, cmd.Usage)
	}
	assert.Len(t, Migrate().Subcommands, 3)
}
