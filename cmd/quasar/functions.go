package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func functionsCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List functions exported for a job",
		Long:  "List the functions a job exported to the configured function table (redis, tiered or postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Export.Table == "memory" {
				return fmt.Errorf("the memory function table is per-process; configure redis, tiered or postgres")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			table, closeTable, err := openFunctionTable(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeTable()

			fns, err := table.List(ctx, jobID)
			if err != nil {
				return err
			}
			if len(fns) == 0 {
				fmt.Printf("No functions exported for job %s\n", jobID)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FUNCTION\tLANGUAGE\tHASH\tSESSION\tMAX CALLS\tEXPORTED")
			for _, fn := range fns {
				hash := fn.Descriptor.Hash
				if len(hash) > 12 {
					hash = hash[:12]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					fn.Descriptor.QualifiedName(),
					fn.Descriptor.Language,
					hash,
					fn.SessionJob.SessionID,
					fn.MaxCalls,
					fn.ExportedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	cmd.MarkFlagRequired("job")
	return cmd
}
