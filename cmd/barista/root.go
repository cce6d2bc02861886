package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"barista/internal/config"
)

// DefaultCfgFile is read when it exists and --config is not given
const DefaultCfgFile = "barista.yaml"

var cfgFile string
var verbose bool

var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "barista",
	Short: "Recipe executor for an automated beverage machine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is %s when present)", DefaultCfgFile))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(DefaultCfgFile); err == nil {
			path = DefaultCfgFile
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if verbose && path != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", path)
	}
	cfg = loaded
	return nil
}

// newLogger builds the process logger from the log section
func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lc.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	if verbose && level > zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
