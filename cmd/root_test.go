package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-oplog/config"
	"github.com/alimasry/go-oplog/ot"
	"github.com/alimasry/go-oplog/store"
)

// isolate keeps config lookups away from the developer's real files.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	got, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), got)
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "oplog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
store:
  backend: sqlite
  sqlite_path: /tmp/docs.db
  cache: true
  flush_interval: 250ms
`), 0o600))

	got, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, ":9090", got.Addr)
	require.Equal(t, config.BackendSQLite, got.Store.Backend)
	require.Equal(t, "/tmp/docs.db", got.Store.SQLitePath)
	require.True(t, got.Store.Cache)
	require.Equal(t, 250*time.Millisecond, got.Store.FlushInterval)
	require.Equal(t, config.Defaults().Tracing, got.Tracing)
}

func TestLoadConfig_LocalDirectory(t *testing.T) {
	isolate(t)
	require.NoError(t, config.WriteDefaultConfig(filepath.Join(".oplog", "config.yaml")))

	v := viper.New()
	_, err := loadConfig(v, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(".oplog", "config.yaml"), v.ConfigFileUsed())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("OPLOG_ADDR", ":7000")
	t.Setenv("OPLOG_STORE_BACKEND", "firestore")
	t.Setenv("OPLOG_STORE_FIRESTORE_PROJECT", "demo")

	got, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, ":7000", got.Addr)
	require.Equal(t, config.BackendFirestore, got.Store.Backend)
	require.Equal(t, "demo", got.Store.FirestoreProject)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, release, err := openStore(ctx, config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, st)
	release()

	path := filepath.Join(t.TempDir(), "db", "oplog.db")
	st, release, err = openStore(ctx, config.StoreConfig{
		Backend:       config.BackendSQLite,
		SQLitePath:    path,
		Cache:         true,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	require.IsType(t, &store.CachedStore{}, st)
	require.NoError(t, st.Create(ctx, "doc", "abc"))
	require.NoError(t, st.AppendOperation(ctx, "doc", ot.NewInsert("x"), 1))
	require.NoError(t, st.UpdateContent(ctx, "doc", "xabc", 1))
	release()

	// The cache flushes on release.
	sq, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer sq.Close()
	info, err := sq.Get(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, "xabc", info.Content)
	require.Equal(t, 1, info.Version)

	_, _, err = openStore(ctx, config.StoreConfig{Backend: "etcd"})
	require.ErrorContains(t, err, "unknown store backend")
}

func TestCheckDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(ctx, "doc", "We need to talk"))
	require.NoError(t, st.AppendOperation(ctx, "doc", ot.NewSkip(11), 1))
	require.NoError(t, st.AppendOperation(ctx, "doc", ot.NewInsert("really "), 2))
	require.NoError(t, st.UpdateContent(ctx, "doc", "We need to really talk", 2))

	c := &cobra.Command{}
	var buf bytes.Buffer
	c.SetOut(&buf)
	require.NoError(t, checkDocument(ctx, c, st, "doc"))
	require.Contains(t, buf.String(), "version 2")
	require.Contains(t, buf.String(), "ok")

	buf.Reset()
	require.NoError(t, st.UpdateContent(ctx, "doc", "We need to talk", 2))
	err := checkDocument(ctx, c, st, "doc")
	require.ErrorIs(t, err, errMismatch)
	require.Contains(t, buf.String(), `replayed: "We need to really talk"`)

	err = checkDocument(ctx, c, st, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetVersion(t *testing.T) {
	t.Cleanup(func() {
		SetVersion("dev")
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	SetVersion("1.2.0 (commit: abc123, built: 2026-01-02)")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "oplog version 1.2.0 (commit: abc123, built: 2026-01-02)\n", buf.String())
}
