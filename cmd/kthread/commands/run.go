package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Swind/go-kthread/config"
	"github.com/Swind/go-kthread/core"
	kprom "github.com/Swind/go-kthread/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configPath string
	timeout    time.Duration
	events     int
	serve      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenario of a config file",
		Long: `Run builds every task and thread of the scenario section, attaches the
threads, applies the requested detaches, then starts the kernel. Each main
thread joins its remaining threads. The command prints the thread groups
with their composed priorities, the join results and the lifecycle events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "kthread.yml", "Path to the configuration file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Maximum time to wait for the scenario")
	cmd.Flags().IntVar(&opts.events, "events", 20, "Number of lifecycle events to print (0 for none)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "Keep serving metrics on metrics.listen after the run until interrupted")
	return cmd
}

func runScenario(cmd *cobra.Command, opts *runOptions) error {
	file, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if file.Scenario == nil {
		return fmt.Errorf("config %s has no scenario section", opts.configPath)
	}
	out := cmd.OutOrStdout()

	reg := prom.NewRegistry()
	exporter, err := kprom.NewMetricsExporter(file.Metrics.Namespace, reg, kprom.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	cfg := file.KernelConfig(file.NewLogger(cmd.ErrOrStderr()))
	cfg.Metrics = exporter
	k := core.NewKernel(cfg)
	defer k.Stop()

	tasks, err := buildScenario(k, file.Scenario)
	if err != nil {
		return err
	}
	printGroups(out, k, tasks)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	if err := startScenario(ctx, k, tasks); err != nil {
		return err
	}
	printResults(out, tasks)
	if opts.events > 0 {
		printEvents(out, k.RecentEvents(opts.events))
	}

	destroyed, err := teardown(k, tasks)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d task(s) destroyed, %d thread(s) left\n", destroyed, k.Stats().Threads)

	if opts.serve && file.Metrics.Listen != "" {
		return serveMetrics(cmd.Context(), out, reg, k, file.Metrics.Namespace, file.Metrics.Listen)
	}
	return nil
}

type scenarioThread struct {
	name     string
	id       core.ThreadID
	detached bool
}

type joinResult struct {
	thread string
	value  any
	err    error
}

type scenarioTask struct {
	name    string
	id      core.TaskID
	main    core.ThreadID
	threads []*scenarioThread

	mu      sync.Mutex
	results []joinResult
}

// mainEntry joins every thread still attached when the kernel starts.
func (st *scenarioTask) mainEntry(k *core.Kernel) core.Entry {
	return func(ctx context.Context, arg any) any {
		for _, th := range st.threads {
			if th.detached {
				continue
			}
			value, err := k.Join(ctx, th.id)
			st.mu.Lock()
			st.results = append(st.results, joinResult{thread: th.name, value: value, err: err})
			st.mu.Unlock()
		}
		return nil
	}
}

func childEntry(ctx context.Context, arg any) any {
	return fmt.Sprintf("%v finished", arg)
}

func buildScenario(k *core.Kernel, sc *config.Scenario) ([]*scenarioTask, error) {
	tasks := make([]*scenarioTask, 0, len(sc.Tasks))
	for _, spec := range sc.Tasks {
		st := &scenarioTask{name: spec.Name}
		id, err := k.CreateTask(core.TaskSpec{
			Name:     spec.Name,
			Priority: core.Priority(spec.Priority),
			Main:     core.ThreadSpec{Priority: core.Priority(spec.MainPriority), Entry: st.mainEntry(k)},
		})
		if err != nil {
			return nil, err
		}
		info, _ := k.Task(id)
		st.id, st.main = id, info.MainThread

		for _, thSpec := range spec.Threads {
			name := spec.Name + "/" + thSpec.Name
			tid, err := k.CreateThread(core.ThreadSpec{
				Name:     name,
				Entry:    childEntry,
				Arg:      name,
				Priority: core.Priority(thSpec.Priority),
			})
			if err != nil {
				return nil, err
			}
			if err := k.AttachThread(id, tid); err != nil {
				return nil, err
			}
			st.threads = append(st.threads, &scenarioThread{name: thSpec.Name, id: tid})
		}

		for _, name := range spec.Detach {
			for _, th := range st.threads {
				if th.name != name || th.detached {
					continue
				}
				if err := detachAndRelease(k, id, th.id); err != nil {
					return nil, err
				}
				th.detached = true
			}
		}
		tasks = append(tasks, st)
	}
	return tasks, nil
}

func detachAndRelease(k *core.Kernel, task core.TaskID, thread core.ThreadID) error {
	if err := k.DetachThread(task, thread); err != nil {
		return err
	}
	if err := k.ClearOwner(thread); err != nil {
		return err
	}
	return k.ReleaseThread(thread)
}

func startScenario(ctx context.Context, k *core.Kernel, tasks []*scenarioTask) error {
	for _, st := range tasks {
		for _, th := range st.threads {
			if th.detached {
				continue
			}
			if err := k.StartThread(th.id); err != nil {
				return err
			}
		}
		if err := k.StartTask(st.id); err != nil {
			return err
		}
	}

	k.Start(ctx)
	for _, st := range tasks {
		if err := k.WaitFinished(ctx, st.main); err != nil {
			return fmt.Errorf("task %s did not finish: %w", st.name, err)
		}
	}
	return nil
}

// teardown reaps every main thread and destroys its task.
func teardown(k *core.Kernel, tasks []*scenarioTask) (int, error) {
	destroyed := 0
	for _, st := range tasks {
		if _, err := k.Reap(st.main); err != nil {
			return destroyed, err
		}
		if err := k.DestroyTask(st.id); err != nil {
			return destroyed, err
		}
		destroyed++
	}
	return destroyed, nil
}

func printGroups(out io.Writer, k *core.Kernel, tasks []*scenarioTask) {
	fmt.Fprintln(out, "Thread groups:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tPRIORITY\tTHREAD\tINTRINSIC\tEFFECTIVE\tSTATE")
	for _, st := range tasks {
		info, ok := k.Task(st.id)
		if !ok {
			continue
		}
		for _, id := range info.Members {
			th, ok := k.Thread(id)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\n",
				info.Name, info.Priority, th.Name, th.Intrinsic, th.Effective, th.State)
		}
		for _, th := range st.threads {
			if th.detached {
				fmt.Fprintf(w, "%s\t%d\t%s/%s\t-\t-\tdetached\n", info.Name, info.Priority, info.Name, th.name)
			}
		}
	}
	w.Flush()
}

func printResults(out io.Writer, tasks []*scenarioTask) {
	fmt.Fprintln(out, "\nJoin results:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTHREAD\tRESULT")
	for _, st := range tasks {
		st.mu.Lock()
		for _, r := range st.results {
			result := fmt.Sprint(r.value)
			if r.err != nil {
				result = "error: " + r.err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", st.name, r.thread, result)
		}
		st.mu.Unlock()
	}
	w.Flush()
}

func printEvents(out io.Writer, events []core.LifecycleRecord) {
	fmt.Fprintln(out, "\nLifecycle events:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tEVENT\tTHREAD\tTASK\tPRIORITY")
	// Oldest first
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", ev.Seq, ev.Event, ev.Thread, ev.Task, ev.Priority)
	}
	w.Flush()
}

func serveMetrics(ctx context.Context, out io.Writer, reg *prom.Registry, k *core.Kernel, namespace, addr string) error {
	poller, err := kprom.NewSnapshotPoller(namespace, reg, time.Second)
	if err != nil {
		return err
	}
	poller.AddKernel(k.ID(), k)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	poller.Start(ctx)
	defer poller.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintf(out, "serving metrics on %s/metrics (Ctrl+C to stop)\n", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
