package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
)

func newFactory() *integration.Factory {
	deps := integration.Deps{}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
		if port == 0 {
			port = 587
		}
		mailer, err := integration.NewSMTPMailer(integration.SMTPConfig{
			Host:     host,
			Port:     port,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		})
		if err == nil {
			deps.Mailer = mailer
		}
	}
	return integration.NewFactory(deps)
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate destinations defined in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dests, err := loadDestinations(file)
			if err != nil {
				return err
			}
			factory := newFactory()
			out := cmd.OutOrStdout()
			failed := 0
			for _, d := range dests {
				res := factory.Check(d)
				if res.Valid {
					fmt.Fprintf(out, "ok       %s (%s)\n", d.Name, d.IntegrationType)
					continue
				}
				failed++
				fmt.Fprintf(out, "invalid  %s (%s): %s\n", d.Name, d.IntegrationType, res.Error)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d destinations invalid", failed, len(dests))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "destination YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTestCmd() *cobra.Command {
	var (
		file string
		name string
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test event to a destination defined in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dests, err := loadDestinations(file)
			if err != nil {
				return err
			}
			dest := dests[0]
			if name != "" {
				dest = nil
				for _, d := range dests {
					if d.Name == name {
						dest = d
						break
					}
				}
				if dest == nil {
					return fmt.Errorf("no destination named %q", name)
				}
			}

			adapter, err := newFactory().Create(dest)
			if err != nil {
				return err
			}
			res := adapter.Test(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("test delivery failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "destination YAML file")
	cmd.Flags().StringVar(&name, "name", "", "destination name (defaults to the first)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
