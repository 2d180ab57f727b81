package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitConfig,
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().Bool("force", false, "overwrite an existing file")
}

// secretMask replaces credentials in config show output.
const secretMask = "********"

func runShowConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.CouchDB.Password != "" {
		shown.CouchDB.Password = secretMask
	}
	if shown.TripleStore.Password != "" {
		shown.TripleStore.Password = secretMask
	}
	if shown.Security.JWTSecret != "" {
		shown.Security.JWTSecret = secretMask
	}

	data, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

const defaultConfig = `# UnifiedViews configuration

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 60s
  shutdown_timeout: 10s
  debug: false

storage:
  backend: couchdb   # couchdb or memory

couchdb:
  url: http://localhost:5984
  database: unifiedviews
  username: admin
  password: password

triplestore:
  query_endpoint: http://localhost:8890/sparql
  timeout: 60s
  default_page_size: 20
  max_page_size: 1000
  count_cache_ttl: 5m
  graph_prefix: http://unifiedviews.eu/resource/dataunit/

files:
  working_dir: ./data/working
  library_dir: ./data/dpu
  max_upload_size: 104857600
  watch_library: true

scheduler:
  enabled: true
  interval: 30s

cleanup:
  parallelism: 4

logging:
  level: info
  format: json

security:
  auth_enabled: true
  jwt_secret: change-me-in-production
  jwt_expiration: 24h
  rate_limit: 100
  allowed_origins:
    - "*"
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
	return nil
}
