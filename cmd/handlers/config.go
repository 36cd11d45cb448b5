package handlers

import (
	"encoding/json"
	"fmt"
	"os"

	"storyline/internal/config"

	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command group
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var output string
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		// The schema does not depend on a loaded config
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(config.GenerateSchema(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", output)
			return nil
		},
	}
	schemaCmd.Flags().StringVarP(&output, "output", "o", "", "Write the schema to a file instead of stdout")
	cmd.AddCommand(schemaCmd)

	return cmd
}
