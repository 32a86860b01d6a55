package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alimasry/go-oplog/config"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "oplog",
	Short:   "Positional operation log server and verifier",
	Long:    `oplog applies positional text operations (insert, delete, skip) to shared documents, stores the operation log, and verifies that a log replayed over a stale document reproduces the latest one.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .oplog/config.yaml or ~/.config/oplog/config.yaml)")
	rootCmd.AddCommand(serveCmd, verifyCmd, checkCmd, initCmd)
}

// loadConfig reads configuration into v and decodes it. Lookup order:
// the explicit file, .oplog/config.yaml, then ~/.config/oplog/config.yaml.
// A missing config file is not an error; defaults and OPLOG_* env apply.
func loadConfig(v *viper.Viper, file string) (config.Config, error) {
	defaults := config.Defaults()
	v.SetDefault("addr", defaults.Addr)
	v.SetDefault("static_dir", defaults.StaticDir)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.sqlite_path", defaults.Store.SQLitePath)
	v.SetDefault("store.firestore_project", defaults.Store.FirestoreProject)
	v.SetDefault("store.cache", defaults.Store.Cache)
	v.SetDefault("store.flush_interval", defaults.Store.FlushInterval)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	v.SetEnvPrefix("OPLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else if _, err := os.Stat(filepath.Join(".oplog", "config.yaml")); err == nil {
		v.SetConfigFile(filepath.Join(".oplog", "config.yaml"))
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "oplog"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
	} else {
		log.Printf("config: using %s", v.ConfigFileUsed())
	}

	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(".oplog", "config.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the string reported by --version. main calls it with
// the ldflags build info.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
