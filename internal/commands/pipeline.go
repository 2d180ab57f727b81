package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/unifiedviews/internal/app"
	"evalgo.org/unifiedviews/internal/pipeline"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
	"evalgo.org/unifiedviews/pkg/client"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Check, convert and run pipelines",
}

var pipelineValidateCmd = &cobra.Command{
	Use:   "validate <file.yaml>...",
	Short: "Validate pipeline documents",
	Long: `Check pipeline YAML documents: node IDs must be unique, edges must join
existing nodes and the graph must be acyclic.

Without --installed, template names are not checked since no DPU library is
consulted. With --installed the configured store is opened and every
template must be installed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipelineValidate,
}

var pipelineExportCmd = &cobra.Command{
	Use:   "export <id|name>",
	Short: "Export a stored pipeline as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineExport,
}

var pipelineImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a pipeline document into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineImport,
}

var pipelineDotCmd = &cobra.Command{
	Use:   "dot <file.yaml|id|name>",
	Short: "Render a pipeline as a Graphviz digraph",
	Long: `Render a pipeline document, or a stored pipeline when the argument is not
a file, in Graphviz DOT.

Example:
  unifiedviews pipeline dot nightly.yaml | dot -Tsvg > nightly.svg`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineDot,
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <id|name>",
	Short: "Queue an execution of a pipeline",
	Long: `Queue an execution of a stored pipeline. With --remote the pipeline is run
through the REST API of a running server; otherwise the configured store is
used directly and the backend picks the execution up.

Examples:
  unifiedviews pipeline run nightly
  unifiedviews pipeline run nightly --remote http://uv:8080 --user admin --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineRun,
}

var (
	validateInstalled bool
	exportOutput      string
	importOwner       string
	runRemote         string
	runUser           string
	runPassword       string
	runToken          string
	runDebug          bool
	runWait           bool
	runActor          string
	runPollInterval   time.Duration
)

func init() {
	pipelineCmd.AddCommand(pipelineValidateCmd)
	pipelineCmd.AddCommand(pipelineExportCmd)
	pipelineCmd.AddCommand(pipelineImportCmd)
	pipelineCmd.AddCommand(pipelineDotCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)

	pipelineValidateCmd.Flags().BoolVar(&validateInstalled, "installed", false, "check templates against the configured store")
	pipelineExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	pipelineImportCmd.Flags().StringVar(&importOwner, "owner", "admin", "owner of the imported pipeline")

	pipelineRunCmd.Flags().StringVar(&runRemote, "remote", "", "base URL of a UnifiedViews server")
	pipelineRunCmd.Flags().StringVar(&runUser, "user", "", "username for --remote")
	pipelineRunCmd.Flags().StringVar(&runPassword, "password", "", "password for --remote (default: $UV_PASSWORD)")
	pipelineRunCmd.Flags().StringVar(&runToken, "token", "", "bearer token for --remote (default: $UV_TOKEN)")
	pipelineRunCmd.Flags().BoolVar(&runDebug, "debug", false, "run in debug mode")
	pipelineRunCmd.Flags().BoolVar(&runWait, "wait", false, "wait until the execution finishes (--remote only)")
	pipelineRunCmd.Flags().StringVar(&runActor, "actor", "admin", "user the local run is recorded for")
	pipelineRunCmd.Flags().DurationVar(&runPollInterval, "poll", 2*time.Second, "poll interval for --wait")
}

// documentPipeline builds a pipeline from a document, standing in a
// template of unknown type for every template name it references.
func documentPipeline(data []byte) (*models.Pipeline, map[string]*models.DPUTemplate, error) {
	doc, err := pipeline.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]*models.DPUTemplate)
	byID := make(map[string]*models.DPUTemplate)
	for _, n := range doc.Nodes {
		if _, ok := byName[n.Template]; ok || n.Template == "" {
			continue
		}
		tpl := &models.DPUTemplate{ID: "dpu:" + n.Template, Name: n.Template}
		byName[n.Template] = tpl
		byID[tpl.ID] = tpl
	}
	p, err := pipeline.Import(data, byName, "")
	if err != nil {
		return nil, nil, err
	}
	return p, byID, nil
}

func runPipelineValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var svc *pipeline.Service
	if validateInstalled {
		a, err := openApp(cfg, newLogger("pipeline"))
		if err != nil {
			return err
		}
		defer a.Close()
		svc = a.Pipelines
	}

	failed := 0
	for _, path := range args {
		res, err := validateFile(path, svc)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			failed++
			continue
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		if !res.Valid() {
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			fmt.Fprintf(out, "✗ %s\n", path)
			failed++
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents are invalid", failed, len(args))
	}
	return nil
}

func validateFile(path string, svc *pipeline.Service) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		p, templates, err := documentPipeline(data)
		if err != nil {
			return nil, err
		}
		return pipeline.Validate(p, templates), nil
	}

	doc, err := pipeline.Decode(data)
	if err != nil {
		return nil, err
	}
	templates, err := svc.Templates()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.DPUTemplate, len(templates))
	for _, t := range templates {
		byName[t.Name] = t
	}
	p, err := pipeline.Import(data, byName, "")
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", doc.Name, err)
	}
	return svc.Check(p)
}

// findPipeline resolves a stored pipeline by ID or exact name.
func findPipeline(a *app.App, ref string) (*models.Pipeline, error) {
	if p, err := a.Store.GetPipeline(ref); err == nil {
		return p, nil
	}
	pipelines, err := a.Store.ListPipelines(storage.PipelineFilter{})
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, fmt.Errorf("pipeline %q: %w", ref, storage.ErrNotFound)
}

func runPipelineExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, newLogger("pipeline"))
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := findPipeline(a, args[0])
	if err != nil {
		return err
	}
	_, data, err := a.Pipelines.Export(p.ID)
	if err != nil {
		return err
	}
	if exportOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %s to %s\n", p.Name, exportOutput)
	return nil
}

func runPipelineImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cfg, newLogger("pipeline"))
	if err != nil {
		return err
	}
	defer a.Close()

	p, res, err := a.Pipelines.Import(data, importOwner)
	if res != nil {
		for _, w := range res.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %s as %s\n", p.Name, p.ID)
	return nil
}

func runPipelineDot(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if data, err := os.ReadFile(args[0]); err == nil {
		p, templates, err := documentPipeline(data)
		if err != nil {
			return err
		}
		return pipeline.RenderDOT(p, templates, out)
	}

	a, err := openApp(cfg, newLogger("pipeline"))
	if err != nil {
		return err
	}
	defer a.Close()
	p, err := findPipeline(a, args[0])
	if err != nil {
		return err
	}
	return a.Pipelines.WriteDOT(p.ID, out)
}

func runPipelineRun(cmd *cobra.Command, args []string) error {
	if runRemote != "" {
		return runRemotePipeline(cmd.Context(), cmd.OutOrStdout(), args[0])
	}
	if runWait {
		return fmt.Errorf("--wait needs --remote: a local run only queues the execution")
	}

	a, err := openApp(cfg, newLogger("pipeline"))
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := findPipeline(a, args[0])
	if err != nil {
		return err
	}
	e, err := a.Pipelines.Run(p.ID, runActor, pipeline.RunOptions{Debug: runDebug})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued %s for %s\n", e.ID, p.Name)
	return nil
}

func runRemotePipeline(ctx context.Context, out io.Writer, ref string) error {
	token := firstNonEmpty(runToken, os.Getenv("UV_TOKEN"))
	c, err := client.New(runRemote, client.WithToken(token))
	if err != nil {
		return err
	}
	if runUser != "" {
		password := firstNonEmpty(runPassword, os.Getenv("UV_PASSWORD"))
		if _, err := c.Login(ctx, runUser, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	p, err := c.FindPipeline(ctx, ref)
	if err != nil {
		return err
	}
	e, err := c.RunPipeline(ctx, p.ID, client.RunOptions{Debug: runDebug})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Queued %s for %s\n", e.ID, p.Name)
	if !runWait {
		return nil
	}

	e, err = c.WaitExecution(ctx, e.ID, runPollInterval)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Execution %s finished: %s\n", e.ID, e.Status)
	if !e.Status.IsSuccess() {
		return fmt.Errorf("execution %s ended with %s", e.ID, strings.ToLower(string(e.Status)))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
