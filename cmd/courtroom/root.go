package main

import (
	"encoding/json"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"courtroom/internal/rubric"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "courtroom",
		Short:         "Multi-perspective audit pipeline",
		Long:          "Collects evidence about a repository and its report, deliberates with a judge panel, and synthesizes a verdict.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	cmd.AddCommand(auditCmd(), rubricCmd())
	return cmd
}

func rubricCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Print the active criteria catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(path)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cat, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "rubric", "", "path to a rubric file (YAML or JSON)")
	return cmd
}

func loadCatalog(path string) (*rubric.Catalog, error) {
	if path != "" {
		return rubric.Load(path)
	}
	return rubric.LoadFromEnv()
}
