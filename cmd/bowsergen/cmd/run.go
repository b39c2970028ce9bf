package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bowserlabs/bowsergen/graphapi"
	"github.com/bowserlabs/bowsergen/queue"
)

var (
	runCount int
	runName  string
)

// tickInterval drives queue advancement and event draining.
const tickInterval = 4 * time.Second

var runCmd = &cobra.Command{
	Use:   "run <workflow.json>",
	Short: "Queue a workflow and wait for it to finish",
	Long: `Load an API-format workflow file, queue it on the first configured
server, and drive the queue until every iteration has completed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runCount, "count", "c", 1, "number of iterations to run")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "workflow name for the performance model (default: file basename)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	workflowPath := args[0]
	workflow, err := graphapi.NewWorkflowFromFile(workflowPath)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}

	name := runName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(workflowPath), filepath.Ext(workflowPath))
	}

	var failure string
	notifier := queue.Notifier{
		NewFile: func(server, path string) {
			fmt.Printf("\n%s: wrote %s\n", server, path)
		},
		JobErrored: func(server string, job *queue.Job, message string) {
			failure = message
		},
	}

	registry, err := newRegistry(notifier)
	if err != nil {
		return err
	}
	defer registry.Close()

	job := queue.NewJob(name, workflow, runCount)
	if err := registry.QueueJob(job); err != nil {
		return err
	}

	server := registry.SelectedServer()
	jobQueue := registry.Queue(server)
	fmt.Printf("Queued %s x%d on %s (estimated %.0fs)\n",
		name, runCount, server, job.EstimatedRuntime)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			registry.TickAll()

			if value, max := jobQueue.Progress(); max > 0 {
				if bar.GetMax() != max {
					bar.ChangeMax(max)
				}
				bar.Set(value)
			}

			if failure != "" {
				fmt.Println()
				return fmt.Errorf("job failed: %s", failure)
			}
			if job.IsCompleted() {
				bar.Finish()
				fmt.Printf("\nCompleted %d iteration(s)\n", job.Completions)
				return nil
			}

		case <-interrupt:
			fmt.Println("\nCanceling...")
			jobQueue.Cancel(job)
			return nil
		}
	}
}
