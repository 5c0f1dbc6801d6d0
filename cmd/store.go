package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/aura-supply/recon-cli/internal/escalate"
	"github.com/aura-supply/recon-cli/internal/store"
	"github.com/aura-supply/recon-cli/pkg/notion"
	sfpkg "github.com/aura-supply/recon-cli/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "recon.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initNotion returns nil when no review board is configured; escalation
// simply skips the Notion target then.
func initNotion() notion.Client {
	if cfg.Notion.Token == "" {
		return nil
	}
	return notion.NewClient(cfg.Notion.Token)
}

// initSalesforce returns nil when procurement-case escalation is not
// configured at all. A partial configuration is an error, not a skip.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, nil
	}
	if cfg.Salesforce.Username == "" || cfg.Salesforce.KeyPath == "" {
		return nil, eris.New("salesforce escalation needs RECON_SALESFORCE_USERNAME and RECON_SALESFORCE_KEY_PATH alongside the client ID")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}

// newEscalator wires whichever escalation targets are configured. It
// returns nil when none are, so callers can run without escalation.
func newEscalator() (*escalate.Escalator, error) {
	notionClient := initNotion()
	sfClient, err := initSalesforce()
	if err != nil {
		return nil, err
	}
	if notionClient == nil && sfClient == nil && cfg.Escalation.WebhookURL == "" {
		return nil, nil
	}
	return escalate.New(cfg, notionClient, sfClient), nil
}
