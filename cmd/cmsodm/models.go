package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/models"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model definitions",
	Long: `List the models selected by the configuration: the built-in CMS
models plus any definitions in models.dir.

Examples:
  cmsodm models
  cmsodm models show posts`,
	Args: cobra.NoArgs,
	RunE: runModelsList,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <collection>",
	Short: "Show the items of a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsShow,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsShowCmd)
}

func loadDefinitions() ([]schema.Definition, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return models.Load(cfg.Models.Dir, cfg.Models.SkipBuiltin)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tITEMS\tUNIQUE\tREFERENCES\tDESCRIPTION")
	fmt.Fprintln(w, "----------\t-----\t------\t----------\t-----------")
	for _, def := range defs {
		var unique []string
		for _, item := range def.Items {
			if item.Unique {
				unique = append(unique, item.Name)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			def.Collection, len(def.Items), orDash(strings.Join(unique, ",")),
			orDash(strings.Join(def.Targets(), ",")), def.Description)
	}
	return w.Flush()
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions()
	if err != nil {
		return err
	}

	var def *schema.Definition
	for i := range defs {
		if defs[i].Collection == args[0] {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		return fmt.Errorf("unknown model %q", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s", def.Collection)
	if def.Description != "" {
		fmt.Fprintf(out, " - %s", def.Description)
	}
	fmt.Fprint(out, "\n\n")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tTYPE\tFLAGS\tTARGET\tDEFAULT")
	fmt.Fprintln(w, "----\t----\t-----\t------\t-------")
	for _, item := range def.Items {
		dflt := "-"
		if item.Default != nil {
			dflt = fmt.Sprint(item.Default)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.Name, item.Type, orDash(itemFlags(item)), orDash(item.Target), dflt)
	}
	return w.Flush()
}

func itemFlags(item schema.ItemDef) string {
	var flags []string
	add := func(on bool, name string) {
		if on {
			flags = append(flags, name)
		}
	}
	add(item.Required, "required")
	add(item.Unique, "unique")
	add(item.UniqueIndexer, "indexer")
	add(item.Indexable, "indexable")
	add(item.ReadOnly, "read-only")
	add(item.Sensitive || item.Type == schema.ItemTypeSecret, "sensitive")
	add(item.KeyCanBeNull, "nullable")
	return strings.Join(flags, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
