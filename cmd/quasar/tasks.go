package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/spec"
	"github.com/spf13/cobra"
)

func tasksCmd() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List task definitions",
		Long:  "List the builtin functions, or the tasks and placement groups declared in a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := builtinCatalog()
			defs := make(map[string]*remote.TaskDefinition)

			var manifest *spec.Manifest
			if manifestPath != "" {
				m, err := spec.ParseFile(manifestPath)
				if err != nil {
					return err
				}
				if defs, err = m.Definitions(cat); err != nil {
					return err
				}
				manifest = m
			} else {
				for _, name := range cat.names() {
					fn, _ := cat.get(name)
					def, err := remote.Define(fn)
					if err != nil {
						return err
					}
					defs[name] = def
				}
			}

			names := make([]string, 0, len(defs))
			for name := range defs {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tLANGUAGE\tSIGNATURE\tRETURNS\tRETRIES\tRESOURCES\tPLACEMENT")
			for _, name := range names {
				def := defs[name]
				d := def.Defaults()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					name,
					def.Language(),
					def.Function().Signature,
					intOrDash(d.NumReturns, remote.DefaultNumReturns),
					intOrDash(d.MaxRetries, remote.DefaultMaxRetries),
					describeResources(d),
					describePlacement(d),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if manifest != nil && len(manifest.Groups) > 0 {
				fmt.Println()
				w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "GROUP\tSTRATEGY\tBUNDLES\tID")
				for _, name := range manifest.GroupNames() {
					g := manifest.Groups[name]
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, g.Strategy, g.BundleCount(), g.ID)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "Task manifest file")
	return cmd
}

func intOrDash(p *int, def int) string {
	if p == nil {
		return fmt.Sprintf("%d", def)
	}
	return fmt.Sprintf("%d", *p)
}

func describeResources(o remote.InvocationOptions) string {
	r := o.Resources
	var parts []string
	if r.NumCPUs != nil {
		parts = append(parts, fmt.Sprintf("cpu=%g", *r.NumCPUs))
	}
	if r.NumGPUs != nil {
		parts = append(parts, fmt.Sprintf("gpu=%g", *r.NumGPUs))
	}
	if r.Memory != nil {
		parts = append(parts, fmt.Sprintf("memory=%d", *r.Memory))
	}
	if r.AcceleratorType != "" {
		parts = append(parts, "accelerator="+r.AcceleratorType)
	}
	keys := make([]string, 0, len(r.Custom))
	for k := range r.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, r.Custom[k]))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func describePlacement(o remote.InvocationOptions) string {
	g := o.Placement.Group()
	if g.IsEmpty() {
		return "-"
	}
	if o.BundleIndex != nil {
		return fmt.Sprintf("%s[%d]", g.Name, *o.BundleIndex)
	}
	return g.Name
}
