package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// consoleMessenger prints delivered messages to a terminal. User and agent messages share one
// id sequence seeded from the clock so that ids stay unique across sessions on a persistent store.
type consoleMessenger struct {
	mu     sync.Mutex
	w      io.Writer
	self   model.Identity
	lastID atomic.Int64
}

func newConsoleMessenger(w io.Writer, self model.Identity) *consoleMessenger {
	m := &consoleMessenger{w: w, self: self}
	m.lastID.Store(time.Now().UnixMilli() * 1000)
	return m
}

func (m *consoleMessenger) nextMessageID() model.MessageID {
	return model.MessageID(m.lastID.Add(1))
}

func (m *consoleMessenger) Deliver(ctx context.Context, chatID model.ChatID, text string) (model.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := fmt.Fprintf(m.w, "\n%s> %s\n\n", m.self.Username, text); err != nil {
		return 0, goerr.Wrap(err, "failed to write message")
	}
	return m.nextMessageID(), nil
}

func (m *consoleMessenger) Self(ctx context.Context) (*model.Identity, error) {
	self := m.self
	return &self, nil
}

func consoleCommand() *cli.Command {
	var (
		cfg         config
		chatID      int64
		userID      int64
		botUsername string
		botUserID   int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chat-id",
			Usage:       "Chat ID the console session posts to",
			Value:       1,
			Sources:     cli.EnvVars("MURMUR_CONSOLE_CHAT_ID"),
			Destination: &chatID,
		},
		&cli.IntFlag{
			Name:        "user-id",
			Usage:       "User ID of the console user",
			Value:       1000,
			Sources:     cli.EnvVars("MURMUR_CONSOLE_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "bot-username",
			Usage:       "Username the agent answers to",
			Value:       "murmur",
			Destination: &botUsername,
		},
		&cli.IntFlag{
			Name:        "bot-user-id",
			Usage:       "User ID of the agent",
			Value:       1,
			Destination: &botUserID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, conversationFlags(&cfg)...)

	return &cli.Command{
		Name:  "console",
		Usage: "Talk to the agent from a local terminal",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			logger := cfg.setupLogger(c.Root().ErrWriter)
			ctx = logging.With(ctx, logger)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			self := model.Identity{Username: botUsername, UserID: model.UserID(botUserID)}
			messenger := newConsoleMessenger(w, self)

			uc, err := cfg.newUseCase(ctx, repo, messenger, self)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:      fmt.Sprintf("user %d> ", userID),
				HistoryFile: consoleHistoryFile(),
				Stdout:      w,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Console session started in chat %d. Mention %s or reply with commands. Type 'exit' to quit.\n",
				chatID, self.Mention())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read line")
				}

				line = strings.TrimSpace(line)
				if line == "exit" {
					break
				}
				if line == "" {
					continue
				}

				ev := &model.Event{
					ChatID:    model.ChatID(chatID),
					MessageID: messenger.nextMessageID(),
					SenderID:  model.UserID(userID),
					Text:      line,
					Timestamp: time.Now(),
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
				s.Suffix = " thinking..."
				s.Start()
				outcome, err := uc.Handle(ctx, ev)
				s.Stop()

				if err != nil {
					logger.Error("failed to handle message", "error", err)
					continue
				}
				if outcome.Reply == "" {
					fmt.Fprintf(w, "(%s)\n", strings.ToLower(outcome.Detail))
				}
			}

			fmt.Fprintf(w, "\nConsole session completed\n")
			return nil
		},
	}
}

func consoleHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "murmur_console_history")
}
