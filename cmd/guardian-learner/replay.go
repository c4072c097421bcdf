package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/guardian/internal/learning"
)

func newReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the learning retry queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.RetryQueue.RedisURL == "" {
				return errors.New("retry_queue.redis_url is not configured")
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(cmd.Context()))

			n, err := learning.NewReplayer(a.pipeline, a.sink, a.logger).Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d entries\n", n)
			return nil
		},
	}
}
