package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/campaign"
	"github.com/meridian-keys/campaign-tracker/internal/capture"
	"github.com/meridian-keys/campaign-tracker/internal/crm"
	"github.com/meridian-keys/campaign-tracker/internal/store"
	"github.com/meridian-keys/campaign-tracker/pkg/posthog"
)

// env holds the shared runtime dependencies built from config.
type env struct {
	Store     store.Store
	Client    posthog.Client
	Campaigns *campaign.Resolver
	Facade    *capture.Facade
	Leads     *crm.LeadSink
}

var campaignTablePath string

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	campaigns := campaign.NewResolver()
	if campaignTablePath != "" {
		campaigns, err = campaign.NewResolverFromFile(campaignTablePath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	client := posthog.NewClient(cfg.PostHog.APIKey, posthog.WithHost(cfg.PostHog.Host))
	if !client.Enabled() {
		zap.L().Warn("posthog api key not set; events will be recorded locally only")
	}

	leads, err := crm.NewLeadSink(cfg.Salesforce)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		Store:     st,
		Client:    client,
		Campaigns: campaigns,
		Facade:    capture.New(client, campaigns, st, cfg.Capture.BufferSize),
		Leads:     leads,
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
