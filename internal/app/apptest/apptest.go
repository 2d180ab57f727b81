// Package apptest builds an App over in-memory backends for handler tests.
package apptest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/knakk/rdf"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/app"
	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/models"
)

// Secret signs the tokens of apps built with auth enabled.
const Secret = "test-secret-with-enough-entropy"

// TripleStore is a scripted triplestore.Client. Every SELECT returns Result
// and every CONSTRUCT or DESCRIBE returns Triples.
type TripleStore struct {
	mu      sync.Mutex
	Result  *triplestore.Result
	Triples []rdf.Triple
	Err     error
	Queries []string
}

func (f *TripleStore) Select(_ context.Context, query string) (*triplestore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result == nil {
		return &triplestore.Result{}, nil
	}
	return f.Result, nil
}

func (f *TripleStore) Construct(_ context.Context, query string) ([]rdf.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Triples, nil
}

func (f *TripleStore) Ping(context.Context) error { return f.Err }

// Config returns a configuration with temporary directories and the
// scheduler and library watcher switched off.
func Config(t *testing.T, authEnabled bool) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: config.StorageConfig{Backend: "memory"},
		TripleStore: config.TripleStoreConfig{
			QueryEndpoint:   "http://localhost:8890/sparql",
			Timeout:         5 * time.Second,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			CountCacheTTL:   time.Minute,
			GraphPrefix:     "http://unifiedviews.eu/resource/internal/dataUnit/",
		},
		Files: config.FilesConfig{
			WorkingDir: t.TempDir(),
			LibraryDir: t.TempDir(),
			UploadDir:  t.TempDir(),
		},
		Cleanup: config.CleanupConfig{Parallelism: 2},
		Logging: config.LoggingConfig{Level: "off"},
		Security: config.SecurityConfig{
			AuthEnabled:   authEnabled,
			JWTSecret:     Secret,
			JWTExpiration: time.Hour,
		},
	}
}

// New assembles an App over a memory store and a scripted triple store.
func New(t *testing.T, authEnabled bool) (*app.App, *TripleStore) {
	t.Helper()
	ts := &TripleStore{}
	a, err := app.Assemble(Config(t, authEnabled), storage.NewMemory(), ts, logging.Discard(), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, ts
}

// User stores an enabled user with password "secret" and returns a token
// for it.
func User(t *testing.T, a *app.App, username string, roles ...models.Role) (*models.User, string) {
	t.Helper()
	u := models.NewUser(username, roles...)
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	u.PasswordHash = hash
	require.NoError(t, a.Store.SaveUser(u))
	token, err := a.JWT.GenerateToken(u)
	require.NoError(t, err)
	return u, token.AccessToken
}
