package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/murmur/pkg/controller/telegram"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func pollCommand() *cli.Command {
	var (
		cfg         config
		pollTimeout time.Duration
		concurrency int64
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "poll-timeout",
			Usage:       "Long polling timeout of getUpdates",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("MURMUR_POLL_TIMEOUT"),
			Destination: &pollTimeout,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Maximum number of updates processed in parallel",
			Value:       8,
			Sources:     cli.EnvVars("MURMUR_CONCURRENCY"),
			Destination: &concurrency,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, conversationFlags(&cfg)...)
	flags = append(flags, telegramFlags(&cfg)...)

	return &cli.Command{
		Name:  "poll",
		Usage: "Receive Telegram updates by long polling",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := cfg.setupLogger(c.Root().ErrWriter)
			ctx = logging.With(ctx, logger)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			tg, err := cfg.newTelegram()
			if err != nil {
				return err
			}

			uc, err := cfg.newUseCase(ctx, repo, tg, resolveIdentity(ctx, tg))
			if err != nil {
				return err
			}

			poller := telegram.NewPoller(tg, uc,
				telegram.WithPollTimeout(pollTimeout),
				telegram.WithConcurrency(int(concurrency)),
			)
			return poller.Run(ctx)
		},
	}
}
