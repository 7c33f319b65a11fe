package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/scheduler"
	"github.com/visus-project/visus/internal/service"
	"github.com/visus-project/visus/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled diagnosis tasks",
	Long: `Manage the cron-driven diagnosis tasks stored in the data directory.

These commands operate on the task store directly; a running server
picks up changes on its next scheduler tick.`,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	RunE:  runTaskCreate,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a task now and wait for it to finish",
	Long: `Trigger an immediate execution and wait for the result.

Exit codes: 0 every item normal or abnormal; 3 task not found; 4 the
run failed outright; 5 some items errored.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskRun,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskCreateCmd, taskDeleteCmd, taskRunCmd)

	taskCreateCmd.Flags().String("name", "", "task name (required)")
	taskCreateCmd.Flags().String("type", "batch_image", "task type (batch_image, sample_image, video)")
	taskCreateCmd.Flags().String("cron", "", "5-field cron expression (required)")
	taskCreateCmd.Flags().String("input", "", "input directory or file (required)")
	taskCreateCmd.Flags().String("pattern", "", "glob matched against file names")
	taskCreateCmd.Flags().Bool("recursive", false, "recurse into subdirectories")
	taskCreateCmd.Flags().String("profile", "", "threshold profile")
	taskCreateCmd.Flags().String("level", "", "detection level (fast, standard, deep)")
	taskCreateCmd.Flags().Float64("sample-rate", 0, "sample fraction for sample_image tasks")
	taskCreateCmd.Flags().String("output", "", "report output directory")
	taskCreateCmd.Flags().Bool("compress", false, "write reports xz-compressed")
	taskCreateCmd.Flags().Bool("disabled", false, "create the task with cron scheduling off")

	taskRunCmd.Flags().Duration("timeout", time.Hour, "give up waiting after this long")
}

// openTaskStore opens the task store under the configured data directory.
func openTaskStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.New(cfg.Storage.DataDir, slog.Default())
}

// offlineTaskService builds a TaskService whose scheduler never ticks;
// good for definition management without running jobs.
func offlineTaskService(st *store.Store) *service.TaskService {
	sched := scheduler.NewScheduler(st, noopJobRunner{}).
		WithLogger(slog.Default()).
		WithConfig(scheduler.Config{TickInterval: time.Hour})
	return service.NewTaskService(st, sched)
}

type noopJobRunner struct{}

func (noopJobRunner) Run(context.Context, *models.Task, *models.Execution) error {
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	st, err := openTaskStore()
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	tasks, err := st.ListTasks()
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tCRON\tENABLED\tNEXT RUN")
	for _, t := range tasks {
		next := "-"
		if t.NextRunAt != nil {
			next = t.NextRunAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			t.ID, t.Name, t.Type, t.Cron, t.IsEnabled(), next)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return exitErr(exitBadArgs, fmt.Errorf("invalid task ID: %w", err))
	}

	st, err := openTaskStore()
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	task, err := st.GetTask(id)
	if err != nil {
		return taskStoreErr(err)
	}

	execs, err := st.ListExecutions(id, 10)
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	return printJSON(struct {
		Task       *models.Task        `json:"task"`
		Executions []*models.Execution `json:"recent_executions"`
	}{task, execs})
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	name, _ := f.GetString("name")
	taskType, _ := f.GetString("type")
	cron, _ := f.GetString("cron")
	input, _ := f.GetString("input")
	pattern, _ := f.GetString("pattern")
	recursive, _ := f.GetBool("recursive")
	profileName, _ := f.GetString("profile")
	levelStr, _ := f.GetString("level")
	sampleRate, _ := f.GetFloat64("sample-rate")
	output, _ := f.GetString("output")
	compress, _ := f.GetBool("compress")
	disabled, _ := f.GetBool("disabled")

	level, err := models.ParseLevel(levelStr)
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	task := &models.Task{
		Name: name,
		Type: models.TaskType(taskType),
		Cron: cron,
		Config: models.TaskConfig{
			InputPath:  input,
			Pattern:    pattern,
			Recursive:  recursive,
			Profile:    profileName,
			Level:      level,
			SampleRate: sampleRate,
		},
		Output: models.TaskOutput{
			Dir:      output,
			Compress: compress,
		},
	}
	if disabled {
		task.Enabled = models.BoolPtr(false)
	}

	st, err := openTaskStore()
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	created, err := offlineTaskService(st).Create(task)
	if err != nil {
		if models.IsKind(err, models.KindInput) || models.IsKind(err, models.KindConfig) {
			return exitErr(exitBadArgs, err)
		}
		return exitErr(exitUnexpected, err)
	}
	return printJSON(created)
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return exitErr(exitBadArgs, fmt.Errorf("invalid task ID: %w", err))
	}

	st, err := openTaskStore()
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	if err := st.DeleteTask(id); err != nil {
		return taskStoreErr(err)
	}
	fmt.Println("deleted", id)
	return nil
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return exitErr(exitBadArgs, fmt.Errorf("invalid task ID: %w", err))
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	logger := slog.Default()

	st, err := store.New(cfg.Storage.DataDir, logger)
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	profiles := profile.NewStore(logger)
	if path := cfg.Storage.ProfilesFile(); path != "" {
		_ = profiles.LoadFile(path)
	}

	registry := detect.Default()
	diagnosis := service.NewDiagnosisService(registry, profiles).
		WithLogger(logger).
		WithWorkers(cfg.Detection.BatchWorkers)

	opener := ffmpeg.NewOpener(ffmpeg.NewBinaryDetector()).
		WithProbeTimeout(cfg.FFmpeg.ProbeTimeout)
	videoSvc := service.NewVideoService(opener, registry, profiles).
		WithLogger(logger)

	runner := service.NewTaskRunner(diagnosis, videoSvc).WithLogger(logger)

	sched := scheduler.NewScheduler(st, runner).
		WithLogger(logger).
		WithConfig(scheduler.Config{
			TickInterval: time.Hour, // manual trigger only
			JobTimeout:   cfg.Scheduler.JobTimeout,
		})
	if err := sched.Start(cmd.Context()); err != nil {
		return exitErr(exitUnexpected, err)
	}
	defer sched.Stop()

	exec, err := sched.Run(id)
	if err != nil {
		return taskStoreErr(err)
	}

	fmt.Fprintln(os.Stderr, "execution", exec.ID, "started")

	deadline := time.After(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return exitErr(exitUnexpected, fmt.Errorf("timed out waiting for execution %s", exec.ID))
		case <-ticker.C:
			current, err := st.GetExecution(id, exec.ID)
			if err != nil {
				continue // record may not be flushed yet
			}
			if !current.Status.Terminal() {
				continue
			}
			if err := printJSON(current); err != nil {
				return exitErr(exitUnexpected, err)
			}
			switch current.Status {
			case models.ExecutionFailed:
				return exitErr(exitAllFailed, fmt.Errorf("execution failed: %s", current.Error))
			case models.ExecutionPartial:
				return exitCode(exitPartial)
			default:
				return nil
			}
		}
	}
}

// taskStoreErr maps store errors to CLI exit codes.
func taskStoreErr(err error) error {
	if models.IsKind(err, models.KindNotFound) {
		return exitErr(exitNotFound, err)
	}
	return exitErr(exitUnexpected, err)
}
