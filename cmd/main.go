package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/tgjam/cache"
	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/constant"
	"github.com/xeptore/tgjam/ctxutil"
	"github.com/xeptore/tgjam/engine"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/health"
	"github.com/xeptore/tgjam/log"
	playsession "github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/tgbot"
	"github.com/xeptore/tgjam/tgutil"
	"github.com/xeptore/tgjam/views"
	"github.com/xeptore/tgjam/waitqueue"
)

const (
	flagConfigFilePath = "config"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "tgjam",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Shared community audio playlist bot",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run the bot",
				Action:  run,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func loadConfig(cliCtx *cli.Context, logger zerolog.Logger) (*config.Config, error) {
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return nil, errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		cfg, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return cfg, nil
	default:
		logger.Debug().Msg("Loading config from environment variable")
		cfg, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return cfg, nil
	}
}

func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageSnapshot:
		s, err := store.OpenSnapshot(cfg.Storage.SnapshotPath, logger)
		if nil != err {
			return nil, err
		}
		return s, nil
	case config.StorageSQLite:
		s, err := store.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if nil != err {
			return nil, err
		}
		return s, nil
	default:
		panic("unsupported storage backend: " + cfg.Storage.Backend)
	}
}

func run(cliCtx *cli.Context) (err error) {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)

	cfg, err := loadConfig(cliCtx, logger)
	if nil != err {
		return err
	}

	var (
		appHash  = os.Getenv("APP_HASH")
		botToken = os.Getenv("BOT_TOKEN")
	)
	appID, err := strconv.Atoi(os.Getenv("APP_ID"))
	if nil != err {
		return errors.New("failed to parse APP_ID environment variable to integer")
	}

	if _, err := os.ReadDir(cfg.SessionDir); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read session directory: %v", err)
	} else if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Msg("Session directory does not exist. Creating...")
		if err := os.MkdirAll(cfg.SessionDir, 0o0755); nil != err {
			return fmt.Errorf("failed to create session directory: %v", err)
		}
		logger.Info().Msg("Session directory created")
	}

	st, err := openStore(cfg, logger)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := st.Close(); nil != closeErr {
			logger.Error().Func(log.Flaw(closeErr)).Msg("Failed to close track store")
		}
	}()

	d := tg.NewUpdateDispatcher()
	updateHandler := updates.New(updates.Config{Handler: d}) //nolint:exhaustruct

	client := telegram.NewClient(
		appID,
		appHash,
		//nolint:exhaustruct
		telegram.Options{
			SessionStorage: &session.FileStorage{Path: filepath.Join(cfg.SessionDir, "session.json")},
			UpdateHandler:  updateHandler,
			MaxRetries:     -1,
			AckBatchSize:   100,
			AckInterval:    10 * time.Second,
			RetryInterval:  5 * time.Second,
			DialTimeout:    10 * time.Second,
			Device:         tgutil.Device,
			Middlewares:    tgutil.DefaultMiddlewares(ctx),
		},
	)
	logger.Debug().Msg("Telegram client initialized.")

	wq := waitqueue.New(ctx)
	defer wq.Close()

	clientCtx, cancel := ctxutil.WithDelayedTimeout(ctx, 5*time.Second)
	defer cancel()

	// Intentionally ignore client-inherited context, which is inherited from clientCtx
	// for the run function to force it to use the parent context, which is inherited
	// from cli context. This allows all Telegram messaging operations context to still
	// be active a bit more after parent context cancellation.
	return client.Run(clientCtx, func(_ context.Context) error {
		status, err := client.Auth().Status(ctx)
		if nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to get Telegram client auth status: %v", err)
		}
		if !status.Authorized {
			if _, authErr := client.Auth().Bot(ctx, botToken); nil != authErr {
				if errors.Is(ctx.Err(), context.Canceled) {
					return context.Canceled
				}
				return fmt.Errorf("failed to authorize Telegram bot: %v", authErr)
			}
			logger.Debug().Msg("Telegram client authorized.")
		} else {
			logger.Debug().Msg("Telegram client has already been authorized.")
		}

		api := tg.NewClient(client)
		sender := message.NewSender(api)

		chat := sender.Resolve(cfg.TargetPeerID)
		targetPeer, err := chat.AsInputPeer(ctx)
		if nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to resolve target chat peer: %v", err)
		}

		peersCache := cache.New()
		bot := tgbot.New(api, sender, wq, peersCache, cfg, logger)
		if err := bot.SetTarget(targetPeer); nil != err {
			return err
		}

		registry := views.NewRegistry(st, logger)
		pages := playsession.NewPagination(st)
		playback := playsession.NewPlayback()
		eng := engine.New(
			st,
			registry,
			pages,
			playback,
			bot,
			cfg.IsAdmin,
			time.Duration(cfg.PlaybackTTLSeconds)*time.Second,
			logger,
		)
		bot.AttachEngine(eng)
		bot.Register(d)

		if _, err := chat.StyledText(clientCtx, styling.Italic("Bot has started!")); nil != err {
			switch {
			case errutil.IsContext(clientCtx):
				logger.Error().Msg("Failed to send bot startup message to specified target chat due to context cancellation")
			default:
				return fmt.Errorf("failed to send bot startup message to specified target chat: %v", err)
			}
		}

		wg, healthCtx := errgroup.WithContext(ctx)
		if cfg.HealthAddr != "" {
			healthSrv := health.New(st, logger)
			wg.Go(func() error {
				if err := healthSrv.Run(healthCtx, cfg.HealthAddr); nil != err && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		logger.Info().Msg("Bot is running")
		<-ctx.Done()

		logger.Debug().Msg("Stopping bot due to received signal")
		if _, err := chat.StyledText(clientCtx, styling.Italic("Bot is shutting down...")); nil != err {
			switch {
			case errors.Is(clientCtx.Err(), context.Canceled):
				logger.Error().Msg("Failed to send shutdown message to specified target chat due to context cancellation")
			case errors.Is(clientCtx.Err(), context.DeadlineExceeded):
				logger.Error().Msg("Failed to send shutdown message to specified target chat due to context deadline exceeded")
			default:
				return fmt.Errorf("failed to send bot shutdown message to specified target chat: %v", err)
			}
		}
		return wg.Wait()
	})
}
