package queue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bowserlabs/bowsergen/client"
	"github.com/bowserlabs/bowsergen/graphapi"
)

// Connection is the slice of the server client a JobQueue drives. It is
// satisfied by *client.ComfyClient.
type Connection interface {
	Uploader
	QueuePrompt(workflow graphapi.Workflow) (string, error)
	Interrupt(promptID string) error
	GetResults(promptID string, allowPreview bool) ([]client.Result, error)
	GetAvailableModels() ([]string, error)
	DrainEvents() []client.Event
	DrainFrames() []client.BinaryFrame
	IsConnected() bool
	CurrentDeviceName() string
	EraseHistory() error
}

// Notifier carries the queue's outward-facing callbacks. Any field may
// be nil.
type Notifier struct {
	// NewFile fires once per output file persisted to disk.
	NewFile func(server string, path string)
	// JobErrored fires when a job is halted by a submission or
	// execution error, with a formatted diagnostic.
	JobErrored func(server string, job *Job, message string)
	// QueueChanged fires whenever the pending/active/history sets move.
	QueueChanged func(server string)
}

// PreviewSink receives live single-frame previews pushed by the server
// mid-execution.
type PreviewSink func(data []byte)

// MissingModelsError rejects a job whose workflow references models the
// server does not have and that could not be substituted.
type MissingModelsError struct {
	Missing []string
}

func (e *MissingModelsError) Error() string {
	return "models not available on server: " + strings.Join(e.Missing, ", ")
}

// JobQueue runs jobs against one server, one submission at a time. All
// methods must be called from a single goroutine; the periodic Tick is
// the only driver of both outbound submission and inbound event
// handling, so job state never sees concurrent mutation.
type JobQueue struct {
	server   string
	conn     Connection
	perf     *PerformanceModel
	output   *OutputWriter
	notifier Notifier
	preview  PreviewSink

	paused  bool
	pending []*Job
	active  map[string]*Job
	history []*Job

	device        string
	progressValue int
	progressMax   int
}

// NewJobQueue builds the queue for one server. The performance model is
// shared across every queue so all servers train the same estimates.
func NewJobQueue(server string, conn Connection, perf *PerformanceModel, output *OutputWriter, notifier Notifier) *JobQueue {
	return &JobQueue{
		server:   server,
		conn:     conn,
		perf:     perf,
		output:   output,
		notifier: notifier,
		active:   make(map[string]*Job),
	}
}

func (q *JobQueue) Server() string { return q.server }

// SetPreviewSink routes live preview frames to the given consumer.
func (q *JobQueue) SetPreviewSink(sink PreviewSink) {
	q.preview = sink
}

func (q *JobQueue) Pause()         { q.paused = true }
func (q *JobQueue) Resume()        { q.paused = false }
func (q *JobQueue) IsPaused() bool { return q.paused }

func (q *JobQueue) Pending() []*Job { return q.pending }
func (q *JobQueue) History() []*Job { return q.history }

// ActiveJob returns the job currently submitted to the server, or nil.
func (q *JobQueue) ActiveJob() *Job {
	for _, job := range q.active {
		return job
	}
	return nil
}

// Progress reports the latest value/max pair from the server's progress
// stream for the active submission.
func (q *JobQueue) Progress() (int, int) {
	return q.progressValue, q.progressMax
}

// QueueJob validates the job's model references against the server and
// admits it to the pending list. A workflow referencing models the
// server cannot supply is rejected with a MissingModelsError and never
// enters the queue.
func (q *JobQueue) QueueJob(job *Job) error {
	available, err := q.conn.GetAvailableModels()
	if err != nil {
		return fmt.Errorf("listing server models: %w", err)
	}
	if missing := ValidateModels(job.Workflow, available); len(missing) > 0 {
		return &MissingModelsError{Missing: missing}
	}

	q.refreshDevice()
	job.ComputeEstimatedRuntime(q.perf.Rate(job.WorkflowName, GPUFromDeviceString(q.device)))

	q.pending = append(q.pending, job)
	jobsQueuedTotal.WithLabelValues(q.server).Inc()
	pendingJobs.WithLabelValues(q.server).Set(float64(len(q.pending)))
	q.queueChanged()

	slog.Info("Job queued", "server", q.server,
		"workflow", job.WorkflowName, "count", job.Count,
		"estimated_runtime", job.EstimatedRuntime)
	return nil
}

// Tick is the queue's heartbeat, invoked on a fixed interval. It drains
// the connection's buffered frames and events, refreshes the device
// name, and admits at most one pending job when nothing is in flight.
func (q *JobQueue) Tick() {
	for _, frame := range q.conn.DrainFrames() {
		q.handleFrame(frame)
	}
	for _, ev := range q.conn.DrainEvents() {
		q.handleEvent(ev)
	}

	q.refreshDevice()

	// a transient disconnect must not burn pending jobs with transport
	// errors; admission simply waits for the connection to come back
	if !q.conn.IsConnected() {
		return
	}
	if len(q.active) > 0 || q.paused {
		return
	}
	for _, job := range q.pending {
		if job.Error || job.IsCompleted() {
			continue
		}
		if err := q.submit(job); err != nil {
			// mark and keep scanning so one broken job does not
			// starve the rest of the queue
			q.failJob(job, fmt.Sprintf("submission failed: %v", err))
			continue
		}
		break
	}
}

func (q *JobQueue) refreshDevice() {
	if name := q.conn.CurrentDeviceName(); name != "" {
		q.device = name
	}
}

// submit sends the job's next iteration to the server and records the
// returned submission id as the single active entry.
func (q *JobQueue) submit(job *Job) error {
	workflow, err := job.WorkflowForSubmission(q.conn)
	if err != nil {
		return err
	}
	id, err := q.conn.QueuePrompt(workflow)
	if err != nil {
		return err
	}

	job.ComputeEstimatedRuntime(q.perf.Rate(job.WorkflowName, GPUFromDeviceString(q.device)))
	q.active[id] = job
	q.progressValue, q.progressMax = 0, 0
	activeJobs.WithLabelValues(q.server).Set(1)
	q.queueChanged()

	slog.Debug("Submitted iteration", "server", q.server,
		"workflow", job.WorkflowName, "iteration", job.Completions, "prompt_id", id)
	return nil
}

func (q *JobQueue) handleFrame(frame client.BinaryFrame) {
	switch frame.Kind {
	case client.PreviewFrame:
		if q.preview != nil {
			q.preview(frame.Data)
		}
	case client.AnimatedPreviewFrame:
		path, err := q.output.SaveAnimatedPreview(frame.Data)
		if err != nil {
			slog.Warn("Saving animated preview", "server", q.server, "error", err)
			return
		}
		q.newFile(path)
	case client.FinalImageFrame, client.FinalVideoFrame:
		kind := client.ImageResult
		if frame.Kind == client.FinalVideoFrame {
			kind = client.VideoResult
		}
		q.persistResult(client.Result{Data: frame.Data, Kind: kind}, q.ActiveJob())
	}
}

func (q *JobQueue) handleEvent(ev client.Event) {
	switch ev.Type {
	case client.EventProgress:
		job := q.active[ev.PromptID]
		if job == nil && ev.PromptID == "" {
			// older servers omit the prompt id on progress messages;
			// with one submission in flight attribution is unambiguous
			job = q.ActiveJob()
		}
		if job == nil {
			return
		}
		q.progressValue, q.progressMax = ev.Value, ev.Max

	case client.EventExecutionStart:
		if job, ok := q.active[ev.PromptID]; ok {
			job.SetStartTime(time.Now())
		}

	case client.EventExecutionSuccess:
		q.handleSuccess(ev.PromptID)

	case client.EventExecutionError:
		job, ok := q.active[ev.PromptID]
		if !ok {
			return
		}
		delete(q.active, ev.PromptID)
		activeJobs.WithLabelValues(q.server).Set(0)
		q.failJob(job, formatExecutionError(ev.Error))
	}
}

// handleSuccess finishes one iteration: stamps the end time, pulls and
// persists the outputs, trains the performance model, and either
// retires the job to history or resubmits it for the next iteration.
// A success for an unknown id is a late event from a canceled
// submission and is ignored.
func (q *JobQueue) handleSuccess(id string) {
	job, ok := q.active[id]
	if !ok {
		return
	}

	now := time.Now()
	job.SetEndTime(now)

	iteration := job.Completions
	results, err := q.conn.GetResults(id, false)
	if err != nil {
		slog.Error("Fetching results", "server", q.server, "prompt_id", id, "error", err)
	}
	for _, res := range results {
		q.persistResult(res, job)
	}

	if res := job.CurrentResult(); res != nil {
		q.perf.Observe(job.WorkflowName, GPUFromDeviceString(q.device), job.Ops, res.ElapsedTime)
	}

	job.AddCompletion()
	delete(q.active, id)
	activeJobs.WithLabelValues(q.server).Set(0)
	iterationsCompletedTotal.WithLabelValues(q.server).Inc()

	slog.Info("Iteration complete", "server", q.server,
		"workflow", job.WorkflowName, "iteration", iteration, "of", job.Count)

	if job.IsCompleted() {
		q.removePending(job)
		q.history = append([]*Job{job}, q.history...)
		jobsCompletedTotal.WithLabelValues(q.server).Inc()
		pendingJobs.WithLabelValues(q.server).Set(float64(len(q.pending)))
		q.queueChanged()
		return
	}

	if job.Error || q.paused {
		q.queueChanged()
		return
	}

	// multi-iteration jobs go straight back out rather than waiting
	// for the next tick
	if err := q.submit(job); err != nil {
		q.failJob(job, fmt.Sprintf("resubmission failed: %v", err))
	}
}

// persistResult writes one output to disk with the job's generation
// metadata. Final frames can arrive with no active job attached; those
// are written with empty metadata rather than dropped.
func (q *JobQueue) persistResult(res client.Result, job *Job) {
	var meta *OutputMetadata
	if job != nil {
		meta = buildOutputMetadata(job, job.Completions, q.device)
	} else {
		meta = &OutputMetadata{
			ImageParams: map[string]interface{}{},
			ExtraData:   map[string]interface{}{},
			Bowser:      BowserParams{Device: q.device},
		}
	}

	iteration := 0
	if job != nil {
		iteration = job.Completions
	}
	path, err := q.output.SaveResult(res, meta, iteration)
	if err != nil {
		slog.Error("Persisting output", "server", q.server, "error", err)
		return
	}
	if job != nil {
		if record := job.CurrentResult(); record != nil {
			record.OutputFiles = append(record.OutputFiles, path)
		}
	}
	q.newFile(path)
}

// Cancel halts a job wherever it is: an in-flight submission is
// interrupted on the server, a pending job moves straight to history.
// The interrupt is fire-and-forget; a late success or error event for
// the dropped id is ignored.
func (q *JobQueue) Cancel(job *Job) {
	job.Error = true

	for id, active := range q.active {
		if active == job {
			delete(q.active, id)
			activeJobs.WithLabelValues(q.server).Set(0)
			if err := q.conn.Interrupt(id); err != nil {
				slog.Warn("Interrupting prompt", "server", q.server, "prompt_id", id, "error", err)
			}
		}
	}

	if q.removePending(job) {
		q.history = append([]*Job{job}, q.history...)
	}
	jobsCanceledTotal.WithLabelValues(q.server).Inc()
	pendingJobs.WithLabelValues(q.server).Set(float64(len(q.pending)))
	q.queueChanged()
}

// ClearHistory drops the local history list and asks the server to
// clear its prompt history too.
func (q *JobQueue) ClearHistory() {
	q.history = nil
	if err := q.conn.EraseHistory(); err != nil {
		slog.Warn("Clearing server history", "server", q.server, "error", err)
	}
	q.queueChanged()
}

// TotalEstimatedRuntime sums the remaining runtime estimates of every
// job still pending on this queue.
func (q *JobQueue) TotalEstimatedRuntime(now time.Time) float64 {
	total := 0.0
	for _, job := range q.pending {
		if job.Error {
			continue
		}
		remaining := job.RemainingEstimatedRuntime(now)
		if remaining > 0 {
			total += remaining
		}
	}
	return total
}

func (q *JobQueue) failJob(job *Job, message string) {
	job.Error = true
	jobsFailedTotal.WithLabelValues(q.server).Inc()
	slog.Error("Job failed", "server", q.server, "workflow", job.WorkflowName, "reason", message)
	if q.notifier.JobErrored != nil {
		q.notifier.JobErrored(q.server, job, message)
	}
	q.queueChanged()
}

func (q *JobQueue) removePending(job *Job) bool {
	for i, pending := range q.pending {
		if pending == job {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *JobQueue) newFile(path string) {
	if q.notifier.NewFile != nil {
		q.notifier.NewFile(q.server, path)
	}
}

func (q *JobQueue) queueChanged() {
	if q.notifier.QueueChanged != nil {
		q.notifier.QueueChanged(q.server)
	}
}

func formatExecutionError(e *client.ExecutionError) string {
	if e == nil {
		return "execution error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "node %s (%s): %s: %s", e.NodeID, e.NodeType, e.ExceptionType, e.ExceptionMessage)
	if len(e.Traceback) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.Traceback, "\n"))
	}
	return b.String()
}
