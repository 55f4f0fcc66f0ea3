package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"gopkg.in/yaml.v3"
)

func newIntegrationsCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "integrations [type]",
		Short: "List supported integration types and the config they need",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors := integration.Descriptors()
			if len(args) == 1 {
				d, ok := integration.Describe(model.IntegrationType(args[0]))
				if !ok {
					return fmt.Errorf("unknown integration type %q", args[0])
				}
				descriptors = []integration.Descriptor{d}
			}

			out := cmd.OutOrStdout()
			if asYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(descriptors)
			}
			for _, d := range descriptors {
				fmt.Fprintf(out, "%-16s %s\n", d.Type, d.Name)
				fmt.Fprintf(out, "  required: %s\n", strings.Join(d.RequiredFields, ", "))
				if len(d.OptionalFields) > 0 {
					fmt.Fprintf(out, "  optional: %s\n", strings.Join(d.OptionalFields, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print descriptors as YAML")
	return cmd
}
