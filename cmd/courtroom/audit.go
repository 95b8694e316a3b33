package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"courtroom/internal/courtroom"
	"courtroom/internal/detective"
	"courtroom/internal/llm"
	"courtroom/internal/runstore"
	"courtroom/internal/state"
	"courtroom/internal/verdict"
)

func auditCmd() *cobra.Command {
	var (
		repoURL    string
		docPath    string
		rubricPath string
		outPath    string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run one audit and print the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cat, err := loadCatalog(rubricPath)
			if err != nil {
				return err
			}
			cli := llm.BuildClient(ctx)
			defer cli.Close()

			pipeline, err := courtroom.New(detective.DefaultRegistry(), cli)
			if err != nil {
				return err
			}
			coord := runstore.NewCoordinator(pipeline, runstore.NewMemoryStore(), nil, 1)

			rec, err := coord.Run(ctx, state.Subject{RepoURL: repoURL, DocPath: docPath}, cat)
			if err != nil {
				return err
			}
			if rec.Status == runstore.StatusFailed {
				return fmt.Errorf("run %s failed: %s", rec.ID, rec.Error)
			}

			var rendered []byte
			if asJSON {
				rendered, err = json.MarshalIndent(rec.Report, "", "  ")
				if err != nil {
					return err
				}
			} else {
				rendered = []byte(verdict.RenderMarkdown(rec.Report))
			}
			if outPath != "" {
				return os.WriteFile(outPath, rendered, 0o644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(rendered))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository URL or local path")
	cmd.Flags().StringVar(&docPath, "doc", "", "document path or URL")
	cmd.Flags().StringVar(&rubricPath, "rubric", "", "path to a rubric file (YAML or JSON)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the verdict to a file instead of stdout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw report JSON")
	return cmd
}
