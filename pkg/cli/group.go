package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func groupCommand() *cli.Command {
	return &cli.Command{
		Name:  "group",
		Usage: "Inspect and manage group records",
		Commands: []*cli.Command{
			groupShowCommand(),
			groupSetActiveCommand(),
		},
	}
}

type groupView struct {
	ChatID      int64     `yaml:"chat_id"`
	IsActive    bool      `yaml:"is_active"`
	AdminIDs    []int64   `yaml:"admin_ids"`
	Personality string    `yaml:"personality,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

func newGroupView(g *model.Group) *groupView {
	admins := make([]int64, len(g.AdminIDs))
	for i, id := range g.AdminIDs {
		admins[i] = int64(id)
	}
	return &groupView{
		ChatID:      int64(g.ChatID),
		IsActive:    g.IsActive,
		AdminIDs:    admins,
		Personality: g.Personality,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func groupShowCommand() *cli.Command {
	var (
		cfg    config
		chatID int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chat-id",
			Usage:       "Chat ID of the group",
			Destination: &chatID,
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a group record, creating it if absent",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.setupLogger(c.Root().ErrWriter))

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			group, err := repo.GetOrCreateGroup(ctx, model.ChatID(chatID))
			if err != nil {
				return goerr.Wrap(err, "failed to get group")
			}

			out, err := yaml.Marshal(newGroupView(group))
			if err != nil {
				return goerr.Wrap(err, "failed to marshal group")
			}
			fmt.Fprint(c.Root().Writer, string(out))
			return nil
		},
	}
}

func groupSetActiveCommand() *cli.Command {
	var (
		cfg    config
		chatID int64
		active bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chat-id",
			Usage:       "Chat ID of the group",
			Destination: &chatID,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "active",
			Usage:       "Whether the agent responds to conversation in the group",
			Value:       true,
			Destination: &active,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "set-active",
		Usage: "Activate or deactivate conversation in a group, creating it if absent",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.setupLogger(c.Root().ErrWriter))

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if _, err := repo.GetOrCreateGroup(ctx, model.ChatID(chatID)); err != nil {
				return goerr.Wrap(err, "failed to get group", goerr.V("chat_id", chatID))
			}
			if err := repo.SetActive(ctx, model.ChatID(chatID), active); err != nil {
				return goerr.Wrap(err, "failed to set group activity", goerr.V("chat_id", chatID))
			}

			fmt.Fprintf(c.Root().Writer, "Group %d is_active=%t\n", chatID, active)
			return nil
		},
	}
}
