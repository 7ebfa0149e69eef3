package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/pkg/realtime"
)

func newAskCmd(cfgPath *string) *cobra.Command {
	var timeout time.Duration
	var roomID string
	cmd := &cobra.Command{
		Use:   "ask PROMPT...",
		Short: "Ask the assistant and stream its answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runAsk(ctx, cfg, strings.Join(args, " "), roomID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "room to file the transcript under")
	return cmd
}

func runAsk(ctx context.Context, cfg config.Config, prompt, roomID string, out io.Writer) error {
	logger := pslog.Ctx(ctx)
	userID, _ := identity(cfg)

	client, err := realtime.FromConfig(cfg, realtime.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	done := make(chan realtime.Response, 1)
	printed := 0
	assistant := client.Assistant(realtime.AssistantOptions{
		UserID: userID,
		OnUpdate: func(requestID, text string) {
			if len(text) > printed {
				_, _ = io.WriteString(out, text[printed:])
				printed = len(text)
			}
		},
		OnComplete: func(resp realtime.Response) {
			done <- resp
		},
	})
	defer assistant.Close()

	if err := waitConnected(ctx, client); err != nil {
		return err
	}

	requestID := assistant.Request(prompt)

	var resp realtime.Response
	select {
	case resp = <-done:
		_, _ = fmt.Fprintln(out)
	case <-ctx.Done():
		assistant.Cancel()
		return fmt.Errorf("no response to request %s: %w", requestID, ctx.Err())
	}

	if !cfg.Transcripts.Enabled {
		return nil
	}
	repo, closeArchive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	if err := repo.Create(ctx, resp.Transcript(userID, roomID)); err != nil {
		return fmt.Errorf("failed to archive response: %w", err)
	}
	logger.Debug("archived response", "request", resp.RequestID)
	return nil
}
