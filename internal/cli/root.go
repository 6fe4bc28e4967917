package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orthopilot/claimpilot/internal/config"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "claimpilot",
	Short: "ClaimPilot - AI claim-processing co-pilot for orthopedic RCM",
	Long: `ClaimPilot processes medical claims end to end: it parses uploaded
clinical documents, extracts claim data, assigns validated CPT and
ICD-10 codes, checks compliance and eligibility, and simulates payer
adjudication.

Claims move through a fixed lifecycle:

  processing -> draft -> submitted -> approved|denied

Configuration is layered from defaults, an optional YAML config file
and CLAIMPILOT_* environment variables.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("claimpilot v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./claimpilot.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the layered configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
