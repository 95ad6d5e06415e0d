package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/app"
	"github.com/matheus3301/wppc/internal/bootstrap"
	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/config"
	"github.com/matheus3301/wppc/internal/media"
	"github.com/matheus3301/wppc/internal/notify"
	"github.com/matheus3301/wppc/internal/outbox"
	"github.com/matheus3301/wppc/internal/profile"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/session"
	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui"
	"github.com/matheus3301/wppc/internal/tui/model"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wppc/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		fatal("read config: %v", err)
	}

	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal("%v", err)
	}

	var (
		logger     *zap.Logger
		events     *bus.Bus
		boot       *bootstrap.Bootstrapper
		client     *remote.Client
		sender     *outbox.Sender
		engine     *chatsync.Engine
		profiles   *profile.Service
		downloader *media.Downloader
		notifier   *notify.Notifier
	)
	fxApp := fx.New(
		app.Module(app.Params{SessionName: sessionName, Config: cfg}),
		// fx would otherwise write its own log lines over the terminal UI.
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&logger, &events, &boot, &client, &sender, &engine, &profiles, &downloader, &notifier),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fatal("%v", err)
	}

	vm := model.NewViewModel(model.Deps{
		SessionName: sessionName,
		Engine:      engine,
		Outbox:      sender,
		Remote:      client,
		Profile:     profiles,
		Media:       downloader,
		Session:     boot,
		Notifier:    notifier,
		Logger:      logger,
	})
	runErr := tui.NewApp(vm, events).Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fatal("%v", runErr)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
