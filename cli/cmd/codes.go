package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"southwinds.dev/courier"
)

var codesFormat string

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "List backend response codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		codes := courier.ResponseCodes()

		switch codesFormat {
		case "json":
			return printJSON(cmd, codes)
		case "yaml":
			data, err := yaml.Marshal(codes)
			if err != nil {
				return fmt.Errorf("failed to marshal codes to YAML: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		case "table":
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "CODE\tMEANING")
			fmt.Fprintln(w, "----\t-------")
			for _, c := range codes {
				fmt.Fprintf(w, "%s\t%s\n", c.Code, c.Meaning)
			}
			return nil
		default:
			return fmt.Errorf("unsupported format: %s", codesFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(codesCmd)
	codesCmd.Flags().StringVarP(&codesFormat, "format", "f", "table", "output format (table, json, yaml)")
}
