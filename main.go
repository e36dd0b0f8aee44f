// Ops Helpdesk Bot
// Copyright (C) 2025  Ops Helpdesk Bot Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/bot"
	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
	"github.com/ops-euc-admin/ops-app-repo/internal/health"
	"github.com/ops-euc-admin/ops-app-repo/internal/s3mirror"
	"github.com/ops-euc-admin/ops-app-repo/internal/scheduler"
	"github.com/ops-euc-admin/ops-app-repo/internal/store"
	"github.com/ops-euc-admin/ops-app-repo/internal/sync"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

func main() {
	var configPath = flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)

	logrus.Info("Starting Slack Dify relay")

	if err := cfg.ValidateBot(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := store.New(ctx, cfg.Store)
	if err != nil {
		logrus.Fatalf("Failed to open state store: %v", err)
	}
	defer kv.Close()

	profile, err := bot.ProfileFromConfig(cfg.Bot.Profile)
	if err != nil {
		logrus.Fatalf("Invalid bot profile: %v", err)
	}

	var mirror s3mirror.Putter
	var mirrorPrefix string
	if cfg.S3.Enabled {
		uploader, err := s3mirror.New(ctx, cfg.S3)
		if err != nil {
			logrus.Fatalf("Failed to set up S3 mirror: %v", err)
		}
		mirror, mirrorPrefix = uploader, uploader.Prefix()
	}

	difyClient := newDifyClient(cfg.Dify)

	// Start health check server
	healthServer := health.NewServer(cfg.Health.Port)
	go func() {
		if err := healthServer.Start(); err != nil {
			logrus.Errorf("Health server error: %v", err)
		}
	}()

	slackAPI, socket := bot.Connect(cfg.Slack)
	relayBot, err := bot.New(bot.Options{
		API:          bot.NewSlackClient(slackAPI, 0),
		Socket:       socket,
		Dify:         difyClient,
		KV:           kv,
		Profile:      profile,
		UserPrefix:   cfg.Dify.UserPrefix,
		ResponseMode: cfg.Dify.ResponseMode,
		Mirror:       mirror,
		MirrorPrefix: mirrorPrefix,
		OnReady:      healthServer.SetReady,
	})
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	// Initialize scheduler
	sched, err := newScheduler(cfg, slackAPI, difyClient)
	if err != nil {
		logrus.Fatalf("Failed to set up knowledge sync: %v", err)
	}
	if sw, ok := kv.(store.Sweeper); ok {
		sched.AddSweeper(sw)
	}
	go sched.Start(ctx)

	if cfg.Knowledge.Enabled {
		go func() {
			logrus.Info("Running initial knowledge sync...")
			if err := sched.RunSync(); err != nil {
				logrus.Errorf("Initial sync failed: %v", err)
			}
		}()
	}

	botDone := make(chan error, 1)
	go func() {
		botDone <- relayBot.Run(ctx)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logrus.Info("Shutting down...")
	case err := <-botDone:
		if err != nil {
			logrus.Errorf("Bot stopped: %v", err)
		}
		botDone = nil
	}
	cancel()

	// Stop health server
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer healthCancel()
	if err := healthServer.Stop(healthCtx); err != nil {
		logrus.Warnf("Failed to stop health server: %v", err)
	}

	// Give in-flight answers time to finish
	if botDone != nil {
		select {
		case <-botDone:
		case <-time.After(10 * time.Second):
			logrus.Warn("Timed out waiting for handlers to finish")
		}
	}
}

func newDifyClient(cfg config.DifyConfig) *dify.Client {
	return dify.NewClient(cfg.BaseURL, cfg.APIKey,
		dify.WithDatasetAPIKey(cfg.DatasetAPIKey),
		dify.WithStreamTimeout(cfg.Timeout),
	)
}

// newScheduler wires the knowledge sync when it is enabled. Without it the
// scheduler only sweeps the state store.
func newScheduler(cfg *config.Config, slackAPI *slack.Client, client dify.DatasetClient) (*scheduler.Scheduler, error) {
	if !cfg.Knowledge.Enabled {
		return scheduler.New(0, nil, nil), nil
	}
	if err := cfg.ValidateKnowledge(); err != nil {
		return nil, err
	}

	adapters, err := adapter.FromConfig(cfg, slackAPI)
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		logrus.Infof("Knowledge source enabled: %s", a.Name())
	}

	syncManager, err := sync.NewManager(client, cfg.Knowledge, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return scheduler.New(cfg.Knowledge.Interval, adapters, syncManager), nil
}
