package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phil777/paperwork/pkg/config"
	"github.com/phil777/paperwork/pkg/logging"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=..."
var Version = "dev"

var (
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "paperwork",
	Short: "Scan and recognize documents through prioritized job schedulers",
	Long: `paperwork acquires pages from a scanner and recognizes their text. Scans
and OCR run as jobs on separate schedulers; OCR tries every page orientation
in parallel and keeps the one that reads best.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and runs it
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.paperwork/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level: debug, info, warn, error")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c
	logger = logging.NewLogger(c.LogLevel(), c.Log.JSON)
	return nil
}
