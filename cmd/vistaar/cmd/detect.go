package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/langdetect"
)

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <text>",
		Short: "Print the language classification of a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			r := langdetect.Classify(strings.Join(args, " "))
			fmt.Fprintf(c.OutOrStdout(), "%s\t%s\n", r.Code, r.Name)
			return nil
		},
	}
}
