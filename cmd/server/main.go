package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openhaul/haulbox/internal/server"
	"github.com/openhaul/haulbox/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "haulbox-server",
	Short:   "HaulBox chunk server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		slog.Info("haulbox server", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

		s, err := server.New(config)
		if err != nil {
			return err
		}
		defer slog.Info("Bye!")
		return s.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().StringP("datadir", "d", server.DefaultDataDir, "Directory for chunk staging and assembled files")
	rootCmd.Flags().String("cert", "", "Path to the certificate file")
	rootCmd.Flags().String("key", "", "Path to the key file")
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

func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	viper.SetEnvPrefix("HAULBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindPFlag("http.addr", cmd.Flag("bind"))
	viper.BindPFlag("http.cert_file", cmd.Flag("cert"))
	viper.BindPFlag("http.key_file", cmd.Flag("key"))
	viper.BindPFlag("data_dir", cmd.Flag("datadir"))

	config := &server.Config{
		HTTP: server.HTTPConfig{
			Addr:     viper.GetString("http.addr"),
			CertFile: viper.GetString("http.cert_file"),
			KeyFile:  viper.GetString("http.key_file"),
		},
		DataDir: viper.GetString("data_dir"),
	}
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = server.DefaultAddr
	}
	if config.DataDir == "" {
		config.DataDir = server.DefaultDataDir
	}

	return config, nil
}
