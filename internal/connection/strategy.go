package connection

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/roach88/carelink/internal/backend/firestoredb"
	"github.com/roach88/carelink/internal/backend/localdb"
	"github.com/roach88/carelink/internal/config"
)

// Strategy is one way of initializing a connection.
type Strategy interface {
	Name() string
	Connect(ctx context.Context) (*Connection, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(ctx context.Context) (*Connection, error)
}

func (s StrategyFunc) Name() string { return s.Label }

func (s StrategyFunc) Connect(ctx context.Context) (*Connection, error) {
	return s.Fn(ctx)
}

// AutoConfig initializes from the ambient environment: FIREBASE_CONFIG
// and application default credentials.
type AutoConfig struct {
	Options []option.ClientOption
}

func (AutoConfig) Name() string { return "auto" }

func (a AutoConfig) Connect(ctx context.Context) (*Connection, error) {
	app, err := firebase.NewApp(ctx, nil, a.Options...)
	if err != nil {
		return nil, fmt.Errorf("ambient firebase app: %w", err)
	}
	return firestoreConnection(ctx, "auto", app)
}

// StaticConfig initializes from an explicit app configuration, optionally
// authenticated with a service account file.
type StaticConfig struct {
	Config          *firebase.Config
	CredentialsFile string
	Options         []option.ClientOption
}

func (StaticConfig) Name() string { return "static" }

func (s StaticConfig) Connect(ctx context.Context) (*Connection, error) {
	if s.Config == nil {
		return nil, fmt.Errorf("static firebase app: no configuration")
	}
	opts := append([]option.ClientOption(nil), s.Options...)
	if s.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, s.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("static firebase app: %w", err)
	}
	return firestoreConnection(ctx, "static", app)
}

func firestoreConnection(ctx context.Context, name string, app *firebase.App) (*Connection, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s firestore client: %w", name, err)
	}
	return NewConnection(name, app, firestoredb.New(client)), nil
}

// LocalStrategy opens the SQLite backend.
type LocalStrategy struct {
	Path  string
	Rules *localdb.Rules
}

func (LocalStrategy) Name() string { return "local" }

func (l LocalStrategy) Connect(context.Context) (*Connection, error) {
	db, err := localdb.Open(l.Path, l.Rules)
	if err != nil {
		return nil, fmt.Errorf("local database %s: %w", l.Path, err)
	}
	return NewConnection("local", nil, db), nil
}

// FromConfig returns the strategies cfg selects, in the order they are
// tried.
func FromConfig(cfg *config.Config) ([]Strategy, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		rules, err := cfg.LocalRules()
		if err != nil {
			return nil, err
		}
		return []Strategy{LocalStrategy{Path: cfg.Local.Path, Rules: rules}}, nil

	case config.BackendFirestore:
		var out []Strategy
		if !cfg.Firebase.SkipAuto {
			out = append(out, AutoConfig{})
		}
		if cfg.Firebase.HasStatic() {
			out = append(out, StaticConfig{
				Config: &firebase.Config{
					ProjectID:        cfg.Firebase.ProjectID,
					DatabaseURL:      cfg.Firebase.DatabaseURL,
					StorageBucket:    cfg.Firebase.StorageBucket,
					ServiceAccountID: cfg.Firebase.ServiceAccountID,
				},
				CredentialsFile: cfg.Firebase.CredentialsFile,
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
