package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/bounce"
	"github.com/sells-group/outreach-cli/internal/generator"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/retry"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/verifier"
	"github.com/sells-group/outreach-cli/pkg/lookup"
	"github.com/sells-group/outreach-cli/pkg/mailbox"
	"github.com/sells-group/outreach-cli/pkg/verifyapi"
)

// appEnv holds the initialized store and the components the commands share.
type appEnv struct {
	Store        store.Store
	Generator    *generator.Generator
	Verifier     *verifier.Verifier
	Orchestrator *pipeline.Orchestrator
	Coordinator  *retry.Coordinator
	Monitor      *bounce.Monitor
	Sender       pipeline.Sender
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, API clients, and every component behind the
// commands. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := loadRules()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	genOpts := []generator.Option{
		generator.WithHistory(&pipeline.StoreHistory{Store: st}),
	}
	if cfg.Lookup.Key != "" {
		genOpts = append(genOpts, generator.WithLookup(
			lookup.NewClient(cfg.Lookup.Key, lookup.WithBaseURL(cfg.Lookup.BaseURL))))
		zap.L().Info("external discovery lookup enabled")
	} else {
		zap.L().Debug("OUTREACH_LOOKUP_KEY not set, external discovery disabled")
	}
	gen := generator.New(cfg.Generator, genOpts...)

	var verOpts []verifier.Option
	if cfg.VerifyAPI.Key != "" && cfg.Verifier.APIEnabled {
		verOpts = append(verOpts, verifier.WithAPI(
			verifyapi.NewClient(cfg.VerifyAPI.Key, verifyapi.WithBaseURL(cfg.VerifyAPI.BaseURL))))
		zap.L().Info("external verification api enabled")
	}
	ver := verifier.New(cfg.Verifier, rules, verOpts...)

	sender := &logSender{}
	coordinator := retry.New(cfg.Retry, st, sender)

	orch := pipeline.New(cfg.Pipeline, gen, ver, st,
		pipeline.WithSender(sender),
		pipeline.WithOutcomeHandler(coordinator),
	)

	var monitor *bounce.Monitor
	if cfg.Mailbox.BaseURL != "" {
		feed := mailbox.NewClient(cfg.Mailbox.Token,
			mailbox.WithBaseURL(cfg.Mailbox.BaseURL),
			mailbox.WithFolder(cfg.Mailbox.Folder),
		)
		monitor = bounce.New(cfg.Bounce, feed, st)
	} else {
		zap.L().Debug("mailbox feed not configured, bounce monitoring disabled")
	}

	return &appEnv{
		Store:        st,
		Generator:    gen,
		Verifier:     ver,
		Orchestrator: orch,
		Coordinator:  coordinator,
		Monitor:      monitor,
		Sender:       sender,
	}, nil
}

func loadRules() (verifier.Rules, error) {
	if cfg.Verifier.RulesPath == "" {
		return verifier.DefaultRules(), nil
	}
	return verifier.LoadRules(cfg.Verifier.RulesPath)
}

// logSender records what would be sent. Actual delivery belongs to the
// external send collaborator; the pipeline only needs an outcome per attempt.
type logSender struct{}

func (s *logSender) Send(_ context.Context, email, organization, jobContext string) error {
	zap.L().Info("dispatching outreach",
		zap.String("email", email),
		zap.String("organization", organization),
		zap.String("job_context", jobContext))
	return nil
}
