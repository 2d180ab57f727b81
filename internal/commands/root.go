package commands

import (
	"fmt"
	"os"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evalgo.org/unifiedviews/internal/app"
	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
)

// openApp and openTripleStore are replaced in tests.
var (
	openApp         = app.New
	openTripleStore = func(c *config.Config, logger *log.Logger) (triplestore.Client, error) {
		return triplestore.NewRepo(c.TripleStore, logger, nil)
	}
)

var rootCmd = &cobra.Command{
	Use:   "unifiedviews",
	Short: "ETL pipelines over linked data",
	Long: `UnifiedViews manages DPU templates, pipelines, their schedules and
executions, and lets you browse the RDF data units executions produce.

Run "unifiedviews server" to start the web UI and REST API, or use the
other commands to query a SPARQL endpoint, check pipeline documents and
administer an installation from the shell.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version.GetVersion()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error, off)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	// These should never fail as flags are defined above
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))   //nolint:errcheck
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")) //nolint:errcheck

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogFlags(cfg)
}

// applyLogFlags lets --log-level and --log-format override the file.
func applyLogFlags(c *config.Config) {
	if level := viper.GetString("logging.level"); level != "" {
		c.Logging.Level = level
	}
	if format := viper.GetString("logging.format"); format != "" {
		c.Logging.Format = format
	}
}

func newLogger(prefix string) *log.Logger {
	return logging.New(cfg.Logging, prefix)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, info.String())

		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Fprintf(out, "\nDetails:\n")
			fmt.Fprintf(out, "  Version:    %s\n", info.Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
