package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/repository"
)

func newHistoryCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived assistant responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.User.ID == "" {
				return fmt.Errorf("user.id is not configured")
			}

			repo, closeArchive, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer closeArchive()

			transcripts, err := repo.ListByUser(cmd.Context(), cfg.User.ID, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), transcripts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", repository.DefaultListLimit, "maximum number of responses")
	return cmd
}

func printHistory(out io.Writer, transcripts []*model.Transcript) {
	if len(transcripts) == 0 {
		_, _ = fmt.Fprintln(out, "no archived responses")
		return
	}
	for _, t := range transcripts {
		_, _ = fmt.Fprintf(out, "%s  %s  %s  %s\n", t.CreatedAt.Local().Format(time.DateTime), t.RequestID, t.Status, t.Prompt)
		if t.Response != "" {
			_, _ = fmt.Fprintf(out, "    %s\n", t.Response)
		}
	}
}
