package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot() *cobra.Command {
	root := &cobra.Command{Use: "dojod", Short: "daemon"}
	AddHelpJSONFlag(root)

	kb := &cobra.Command{Use: "kb", Short: "knowledge base"}
	kb.PersistentFlags().StringP("company", "c", "", "company id or name")
	_ = kb.MarkPersistentFlagRequired("company")

	search := &cobra.Command{Use: "search <query>", Short: "search", Aliases: []string{"s"}, RunE: func(*cobra.Command, []string) error { return nil }}
	search.Flags().IntP("max-results", "n", 3, "results to return")
	hidden := &cobra.Command{Use: "debug", Hidden: true}

	kb.AddCommand(search, hidden)
	root.AddCommand(kb)
	return root
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(testRoot())

	assert.Equal(t, "dojod", schema.Name)
	assert.Empty(t, schema.Flags, "help-json is not listed")
	require.Len(t, schema.Subcommands, 1)

	kb := schema.Subcommands[0]
	require.Len(t, kb.Flags, 1)
	assert.Equal(t, "company", kb.Flags[0].Name)
	assert.True(t, kb.Flags[0].Required)
	assert.False(t, kb.Flags[0].Inherited)
	require.Len(t, kb.Subcommands, 1, "hidden commands are skipped")

	search := kb.Subcommands[0]
	assert.Equal(t, "search <query>", search.Use)
	require.Len(t, search.Flags, 2)
	assert.Equal(t, FlagSchema{Name: "max-results", Shorthand: "n", Type: "int", Default: "3", Description: "results to return"}, search.Flags[0])
	assert.Equal(t, "company", search.Flags[1].Name)
	assert.True(t, search.Flags[1].Inherited)
	assert.True(t, search.Flags[1].Required)
}

func TestHelpJSONTarget(t *testing.T) {
	root := testRoot()

	cmd, ok := HelpJSONTarget(root, []string{"kb", "search", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "search", cmd.Name())

	cmd, ok = HelpJSONTarget(root, []string{"kb", "s", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "search", cmd.Name())

	cmd, ok = HelpJSONTarget(root, []string{"unknown", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "dojod", cmd.Name())

	_, ok = HelpJSONTarget(root, []string{"kb", "search", "pricing"})
	assert.False(t, ok)
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSchema(&buf, testRoot()))

	var got CommandSchema
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "kb", got.Subcommands[0].Name)
}
