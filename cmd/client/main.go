package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openhaul/haulbox/internal/client/config"
	"github.com/openhaul/haulbox/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "haulbox",
	Short:   "HaulBox CLI",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "HaulBox data directory")
	rootCmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "HaulBox chunk server URL")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "HaulBox config file")
}

func main() {
	// Setup logger
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// config path
	if cmd.Flag("config").Changed {
		viper.SetConfigFile(cmd.Flag("config").Value.String())
	} else {
		viper.AddConfigPath(filepath.Join(home, ".haulbox"))
		viper.AddConfigPath(filepath.Join(home, ".config/haulbox"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	viper.BindPFlag("data_dir", cmd.Flag("datadir"))
	viper.BindPFlag("server_url", cmd.Flag("server"))

	// Set up environment variables
	viper.SetEnvPrefix("HAULBOX")
	viper.AutomaticEnv()

	cfg := &config.Config{
		Path:      viper.ConfigFileUsed(),
		DataDir:   viper.GetString("data_dir"),
		ServerURL: viper.GetString("server_url"),
		ClientURL: viper.GetString("client_url"),
		AuthToken: viper.GetString("auth_token"),
	}
	if envPath := viper.GetString("config_path"); envPath != "" && cfg.Path == "" {
		cfg.Path = envPath
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = config.DefaultServerURL
	}

	return cfg, nil
}
