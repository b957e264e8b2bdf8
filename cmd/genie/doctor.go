package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/doctor"
)

func doctorCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, database, LLM key and network reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfgPtr *config.Config
			if cfg, err := config.Load(); err == nil {
				cfgPtr = &cfg
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
			}
			d := doctor.Run(cmd.Context(), cfgPtr, Version)
			if err := printDiagnosis(cmd.OutOrStdout(), d, asJSON); err != nil {
				return err
			}
			if d.Failed() {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printDiagnosis(out io.Writer, d doctor.Diagnosis, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	fmt.Fprintf(out, "genie %s (%s/%s, %s)\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
	for _, r := range d.Results {
		fmt.Fprintf(out, "[%s] %-12s %s\n", r.Status, r.Name, r.Message)
		if r.Detail != "" {
			fmt.Fprintf(out, "       %s\n", r.Detail)
		}
	}
	return nil
}
