package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/usecase/conversation"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect stored chat memories",
		Commands: []*cli.Command{
			memorySearchCommand(),
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg       config
		chatID    int64
		query     string
		limit     int64
		maxAge    int64
		botUserID int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chat-id",
			Usage:       "Chat ID to search",
			Destination: &chatID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Text to search similar memories for",
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to return",
			Value:       10,
			Destination: &limit,
		},
		&cli.IntFlag{
			Name:        "max-age-days",
			Usage:       "Only memories newer than this many days. 0 disables the filter",
			Value:       0,
			Destination: &maxAge,
		},
		&cli.IntFlag{
			Name:        "bot-user-id",
			Usage:       "Agent user ID, used to label the agent's own memories",
			Destination: &botUserID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search memories of a chat by semantic similarity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.setupLogger(c.Root().ErrWriter))

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			embedder, err := cfg.newEmbedder(ctx)
			if err != nil {
				return err
			}

			vector, err := embedder.Embed(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to embed query")
			}

			memories, err := repo.SearchMemory(ctx, &model.SearchMemoryInput{
				ChatID:     model.ChatID(chatID),
				Embedding:  vector,
				Limit:      int(limit),
				MaxAgeDays: int(maxAge),
				Now:        time.Now(),
			})
			if err != nil {
				return goerr.Wrap(err, "failed to search memory")
			}

			w := c.Root().Writer
			if len(memories) == 0 {
				fmt.Fprintf(w, "No memories found\n")
				return nil
			}

			for i, m := range memories {
				fmt.Fprintf(w, "%d. [%.4f] (message %d) %s\n",
					i+1, m.Distance, m.MessageID, conversation.FormatMemory(m, model.UserID(botUserID)))
			}
			return nil
		},
	}
}
