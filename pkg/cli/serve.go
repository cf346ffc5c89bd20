package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/controller/telegram"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg           config
		addr          string
		webhookSecret string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the webhook server",
			Value:       ":8000",
			Sources:     cli.EnvVars("MURMUR_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "webhook-secret",
			Usage:       "Secret token expected in X-Telegram-Bot-Api-Secret-Token",
			Sources:     cli.EnvVars("TELEGRAM_WEBHOOK_SECRET"),
			Destination: &webhookSecret,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, conversationFlags(&cfg)...)
	flags = append(flags, telegramFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the Telegram webhook endpoint",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := cfg.setupLogger(c.Root().ErrWriter)
			ctx = logging.With(ctx, logger)

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

			var opts []telegram.HandlerOption
			if webhookSecret != "" {
				opts = append(opts, telegram.WithSecretToken(webhookSecret))
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           withLogger(logger, telegram.NewHandler(uc, opts...)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			return runServer(ctx, server)
		},
	}
}

// withLogger attaches logger to each request context
func withLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

func runServer(ctx context.Context, server *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("start server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server stopped", goerr.V("addr", server.Addr))
		}
		return nil
	case <-ctx.Done():
	}

	logging.From(ctx).Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shutdown server")
	}
	return nil
}
