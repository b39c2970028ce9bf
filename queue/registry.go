package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bowserlabs/bowsergen/client"
)

// ServerRegistry owns one JobQueue and connection pair per configured
// server. All queues share a single PerformanceModel so every server's
// completed iterations refine the same estimates.
type ServerRegistry struct {
	perf     *PerformanceModel
	perfPath string
	notifier Notifier

	order    []string
	servers  map[string]*serverEntry
	selected string
}

type serverEntry struct {
	queue *JobQueue
	conn  *client.ComfyClient
}

func NewServerRegistry(notifier Notifier) *ServerRegistry {
	return &ServerRegistry{
		perf:     NewPerformanceModel(),
		notifier: notifier,
		servers:  make(map[string]*serverEntry),
	}
}

// LoadPerformance merges a persisted rate file over the built-in
// defaults and remembers the path for SavePerformance.
func (r *ServerRegistry) LoadPerformance(path string) error {
	r.perfPath = path
	return r.perf.Load(path)
}

// SavePerformance writes the trained rate table back to the load path.
func (r *ServerRegistry) SavePerformance() error {
	if r.perfPath == "" {
		return nil
	}
	return r.perf.Save(r.perfPath)
}

// AddServer connects to a server and starts a queue for it. The first
// server added becomes the selected one.
func (r *ServerRegistry) AddServer(host string, port int, outputRoot string) error {
	address := fmt.Sprintf("%s:%d", host, port)
	if _, ok := r.servers[address]; ok {
		return fmt.Errorf("server %s already registered", address)
	}

	conn := client.NewComfyClient(host, port)
	if err := conn.Init(); err != nil {
		return fmt.Errorf("connecting to %s: %w", address, err)
	}

	queue := NewJobQueue(address, conn, r.perf, NewOutputWriter(outputRoot), r.notifier)
	r.servers[address] = &serverEntry{queue: queue, conn: conn}
	r.order = append(r.order, address)
	if r.selected == "" {
		r.selected = address
	}

	slog.Info("Server registered", "address", address)
	return nil
}

// Servers lists registered server addresses in registration order.
func (r *ServerRegistry) Servers() []string {
	return r.order
}

// Queue returns the queue for one server address, or nil.
func (r *ServerRegistry) Queue(address string) *JobQueue {
	if entry, ok := r.servers[address]; ok {
		return entry.queue
	}
	return nil
}

// Connection returns the client for one server address, or nil.
func (r *ServerRegistry) Connection(address string) *client.ComfyClient {
	if entry, ok := r.servers[address]; ok {
		return entry.conn
	}
	return nil
}

// SelectServer changes which server QueueJob routes to.
func (r *ServerRegistry) SelectServer(address string) error {
	if _, ok := r.servers[address]; !ok {
		return fmt.Errorf("unknown server %s", address)
	}
	r.selected = address
	return nil
}

func (r *ServerRegistry) SelectedServer() string {
	return r.selected
}

// QueueJobOn admits a job to a specific server's queue.
func (r *ServerRegistry) QueueJobOn(address string, job *Job) error {
	queue := r.Queue(address)
	if queue == nil {
		return fmt.Errorf("unknown server %s", address)
	}
	return queue.QueueJob(job)
}

// QueueJob admits a job to the currently selected server's queue.
func (r *ServerRegistry) QueueJob(job *Job) error {
	if r.selected == "" {
		return fmt.Errorf("no server selected")
	}
	return r.QueueJobOn(r.selected, job)
}

// TickAll advances every server's queue once.
func (r *ServerRegistry) TickAll() {
	for _, address := range r.order {
		r.servers[address].queue.Tick()
	}
}

// ClearHistoryAll clears local and server-side history on every server.
func (r *ServerRegistry) ClearHistoryAll() {
	for _, address := range r.order {
		r.servers[address].queue.ClearHistory()
	}
}

// SetOutputRootAll points every server's output writer at a new root.
func (r *ServerRegistry) SetOutputRootAll(root string) {
	for _, address := range r.order {
		r.servers[address].queue.output.SetRoot(root)
	}
}

// TotalEstimatedRuntime sums the remaining runtime across every queue.
func (r *ServerRegistry) TotalEstimatedRuntime(now time.Time) float64 {
	total := 0.0
	for _, address := range r.order {
		total += r.servers[address].queue.TotalEstimatedRuntime(now)
	}
	return total
}

// Close persists the performance model and tears down every connection.
func (r *ServerRegistry) Close() error {
	if err := r.SavePerformance(); err != nil {
		slog.Error("Saving performance data", "error", err)
	}
	for _, address := range r.order {
		if err := r.servers[address].conn.Close(); err != nil {
			slog.Warn("Closing connection", "address", address, "error", err)
		}
	}
	return nil
}
