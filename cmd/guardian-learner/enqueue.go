package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/guardian/internal/messagebus"
	"github.com/jordanhubbard/guardian/pkg/config"
	"github.com/jordanhubbard/guardian/pkg/messages"
	"github.com/jordanhubbard/guardian/pkg/models"
)

func newEnqueueCommand() *cobra.Command {
	var userID, correlationID string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a learning job to the message bus",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "User the interaction belongs to (required)")
	cmd.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "Correlation ID carried through to events")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "outcome <interaction-id>",
		Short: "Learn from an interaction's immediate outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return publishJob(cmd, messages.OutcomeJob(args[0], userID, correlationID))
		},
	})

	var satisfaction string
	satCmd := &cobra.Command{
		Use:   "satisfaction <ghost-card-id>",
		Short: "Learn from delayed user satisfaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := messages.SatisfactionJob(args[0], userID, models.Satisfaction(satisfaction), correlationID)
			return publishJob(cmd, job)
		},
	}
	satCmd.Flags().StringVar(&satisfaction, "satisfaction", "", "worth_it, regret_it or not_sure (required)")
	_ = satCmd.MarkFlagRequired("satisfaction")
	cmd.AddCommand(satCmd)

	return cmd
}

func publishJob(cmd *cobra.Command, job *messages.LearningJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	bus, err := newBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.PublishLearningJob(cmd.Context(), job); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(job, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newBus(cfg *config.Config) (*messagebus.NatsMessageBus, error) {
	return messagebus.NewNatsMessageBus(messagebus.Config{
		URL:            cfg.MessageBus.URL,
		StreamName:     cfg.MessageBus.StreamName,
		Timeout:        cfg.MessageBus.Timeout,
		ConsumerPrefix: cfg.MessageBus.ConsumerPrefix,
	})
}
