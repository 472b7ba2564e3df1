package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"chatline/internal/api"
	"chatline/internal/chatsync"
	"chatline/internal/config"
	"chatline/internal/export"
	"chatline/internal/logging"
	"chatline/internal/media"
	"chatline/internal/oidc"
	"chatline/internal/session"
	"chatline/internal/store"
	"chatline/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	st, err := store.Open(cfg.DBPath, cfg.Ephemeral, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	accessor := session.NewAccessor(st, cfg.SessionKeyPrefix, session.LogoutConfig{
		LogoutURL:             cfg.OIDC.LogoutURL,
		ClientID:              cfg.OIDC.ClientID,
		PostLogoutRedirectURI: cfg.OIDC.PostLogoutRedirectURI,
	}, logger)

	routes, err := api.RoutesFor(cfg.RouteLayout)
	if err != nil {
		return err
	}
	apiHTTP := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &api.BearerTransport{
			Tokens: accessor,
			Prefix: cfg.APIPrefix,
			Logger: logger,
		},
	}
	client := api.NewClient(cfg.APIURL, routes, apiHTTP, logger)

	preloader := media.NewPreloader(&http.Client{}, media.Options{
		Timeout:     cfg.Media.Timeout,
		MaxBytes:    cfg.Media.MaxBytes,
		Concurrency: cfg.Media.Concurrency,
	}, logger)

	detector, err := chatsync.DetectorFor(cfg.ChangeDetection)
	if err != nil {
		return err
	}
	syncer := chatsync.New(client, preloader,
		chatsync.WithInterval(cfg.PollInterval),
		chatsync.WithDetector(detector),
		chatsync.WithCache(st),
		chatsync.WithLogger(logger),
	)
	defer syncer.Close()

	flow := oidc.NewFlow(oidc.Config{
		Authority:    cfg.OIDC.Authority,
		ClientID:     cfg.OIDC.ClientID,
		RedirectURL:  cfg.OIDC.RedirectURL,
		Scope:        cfg.OIDC.Scope,
		ResponseType: cfg.OIDC.ResponseType,
		KeyPrefix:    cfg.SessionKeyPrefix,
	}, nil, accessor, logger)

	exp, err := export.New(cfg.ExportDir)
	if err != nil {
		return err
	}

	m := ui.NewModel(ui.Deps{
		Config:   cfg,
		Backend:  client,
		Sync:     syncer,
		Auth:     accessor,
		Login:    flow,
		Search:   st,
		Exporter: exp,
		Logger:   logger,
	})
	defer m.Close()

	logger.WithFields(logrus.Fields{
		"api_url":      cfg.APIURL,
		"route_layout": cfg.RouteLayout,
		"ephemeral":    cfg.Ephemeral,
	}).Info("chatline starting")

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
