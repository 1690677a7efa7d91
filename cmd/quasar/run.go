package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/backend"
	"github.com/oriys/quasar/internal/circuitbreaker"
	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
	quasargrpc "github.com/oriys/quasar/internal/grpc"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/observability"
	"github.com/oriys/quasar/internal/ratelimit"
	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/runtimeenv"
	"github.com/oriys/quasar/internal/spec"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	var (
		local           bool
		target          string
		manifestPath    string
		jobID           string
		timeout         time.Duration
		numReturns      int
		numCPUs         float64
		numGPUs         float64
		memory          int64
		maxRetries      int
		retryExceptions bool
		taskName        string
		envVars         []string
		kwargPairs      []string
		debugMarker     string
	)

	cmd := &cobra.Command{
		Use:   "run <function> [args...]",
		Short: "Submit a task and print its results",
		Long: `Submit one task and wait for its results. Arguments are parsed as JSON,
falling back to plain strings. Functions are named module.name; a bare name
refers to the builtin module.`,
		Example: `  quasar run --local builtin.add 1 2
  quasar run divmod 17 5 --num-returns 2
  quasar run -f tasks.yaml builtin.sum 1 2 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("target") {
				cfg.GRPC.Target = target
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			flush, err := setupObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()

			def, err := lookupDefinition(builtinCatalog(), manifestPath, args[0])
			if err != nil {
				return err
			}

			conn, err := connect(ctx, cfg, local)
			if err != nil {
				return err
			}
			defer conn.close()

			ephemeralJob := jobID == ""
			if ephemeralJob {
				jobID = uuid.New().String()
			}
			w := remote.NewWorker(conn.backend,
				remote.WithSink(metrics.ObserveExport(metrics.Global(), conn.sink)),
				remote.WithSessionJob(domain.SessionJob{SessionID: uuid.New().String(), JobID: jobID}),
				remote.WithMiddleware(conn.middleware...),
			)
			if debugMarker != "" {
				w.SetDebugMarker(debugMarker)
			}

			var opts []remote.Option
			flags := cmd.Flags()
			if flags.Changed("num-returns") {
				opts = append(opts, remote.WithNumReturns(numReturns))
			}
			if flags.Changed("num-cpus") {
				opts = append(opts, remote.WithNumCPUs(numCPUs))
			}
			if flags.Changed("num-gpus") {
				opts = append(opts, remote.WithNumGPUs(numGPUs))
			}
			if flags.Changed("memory") {
				opts = append(opts, remote.WithMemory(memory))
			}
			if flags.Changed("max-retries") {
				opts = append(opts, remote.WithMaxRetries(maxRetries))
			}
			if flags.Changed("retry-exceptions") {
				opts = append(opts, remote.WithRetryExceptions(retryExceptions))
			}
			if taskName != "" {
				opts = append(opts, remote.WithName(taskName))
			}
			if len(envVars) > 0 {
				vars, err := parsePairs(envVars)
				if err != nil {
					return fmt.Errorf("--env: %w", err)
				}
				opts = append(opts, remote.WithRuntimeEnv(&runtimeenv.Env{EnvVars: vars}))
			}

			bound, err := def.Options(opts...)
			if err != nil {
				return err
			}

			callArgs := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				callArgs = append(callArgs, parseArg(a))
			}
			var kwargs map[string]any
			if len(kwargPairs) > 0 {
				pairs, err := parsePairs(kwargPairs)
				if err != nil {
					return fmt.Errorf("--kw: %w", err)
				}
				kwargs = make(map[string]any, len(pairs))
				for k, v := range pairs {
					kwargs[k] = parseArg(v)
				}
			}

			res, err := bound.Invoke(ctx, w, callArgs, kwargs)
			if err != nil {
				return err
			}

			refs := res.All()
			values, err := fetchAll(ctx, conn.getter, refs)
			release(ctx, conn.releaser, refs, jobID, ephemeralJob)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tOBJECT\tVALUE")
			for i, ref := range refs {
				fmt.Fprintf(tw, "%d\t%s\t%v\n", ref.Index, ref.ID, values[i])
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Run in-process instead of on a daemon")
	cmd.Flags().StringVar(&target, "target", "localhost:9090", "Daemon gRPC address")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "Task manifest supplying the task's defaults")
	cmd.Flags().StringVar(&jobID, "job", "", "Job id (default: random)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")
	cmd.Flags().IntVar(&numReturns, "num-returns", remote.DefaultNumReturns, "Number of return values")
	cmd.Flags().Float64Var(&numCPUs, "num-cpus", 1, "CPUs to reserve")
	cmd.Flags().Float64Var(&numGPUs, "num-gpus", 0, "GPUs to reserve")
	cmd.Flags().Int64Var(&memory, "memory", 0, "Memory to reserve in bytes")
	cmd.Flags().IntVar(&maxRetries, "max-retries", remote.DefaultMaxRetries, "Retries after a worker crash (-1 for unlimited)")
	cmd.Flags().BoolVar(&retryExceptions, "retry-exceptions", false, "Also retry application errors")
	cmd.Flags().StringVar(&taskName, "name", "", "Task display name")
	cmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "Runtime env var (KEY=VALUE)")
	cmd.Flags().StringArrayVar(&kwargPairs, "kw", nil, "Keyword argument (name=value)")
	cmd.Flags().StringVar(&debugMarker, "debug-marker", "", "Attach a one-shot debugger marker to the task")

	return cmd
}

// lookupDefinition finds name in the manifest when one is given, otherwise
// defines it straight from the catalog.
func lookupDefinition(cat *catalog, manifestPath, name string) (*remote.TaskDefinition, error) {
	if !strings.Contains(name, ".") {
		name = builtinModule + "." + name
	}
	if manifestPath != "" {
		m, err := spec.ParseFile(manifestPath)
		if err != nil {
			return nil, err
		}
		defs, err := m.Definitions(cat)
		if err != nil {
			return nil, err
		}
		if def, ok := defs[name]; ok {
			return def, nil
		}
		return nil, fmt.Errorf("task %s not declared in %s", name, manifestPath)
	}
	fn, ok := cat.get(name)
	if !ok {
		return nil, fmt.Errorf("unknown function %s (available: %s)", name, strings.Join(cat.names(), ", "))
	}
	return remote.Define(fn)
}

// connection is everything a worker needs from the execution side.
type connection struct {
	backend    remote.Backend
	sink       export.Sink
	getter     backend.Getter
	releaser   backend.Releaser
	middleware []domain.SubmitMiddleware
	close      func()
}

func connect(ctx context.Context, cfg *config.Config, local bool) (*connection, error) {
	limit, closeLimit := submitLimiter(cfg)
	mws := []domain.SubmitMiddleware{
		observability.TraceSubmit(),
		limit,
		metrics.ObserveSubmit(metrics.Global()),
		logging.LogSubmit(logging.Default()),
	}

	if local {
		l := backend.NewLocal(
			backend.WithConcurrency(cfg.Daemon.Concurrency),
			backend.WithRetryBackoff(cfg.Daemon.RetryBackoff),
		)
		table, closeTable, err := openFunctionTable(ctx, cfg)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("open function table: %w", err)
		}
		return &connection{
			backend:    l,
			sink:       export.Fanout{l, table},
			getter:     l,
			releaser:   l,
			middleware: mws,
			close: func() {
				l.Close()
				closeTable()
				closeLimit()
			},
		}, nil
	}

	target := cfg.GRPC.Target
	breaker := circuitbreaker.NewRegistry(cfg.Breaker).Get(target)
	client, err := quasargrpc.Dial(target, []quasargrpc.ClientOption{quasargrpc.WithBreaker(breaker)})
	if err != nil {
		closeLimit()
		return nil, err
	}
	if breaker != nil {
		mws = append(mws, reportBreaker(target, breaker))
	}
	return &connection{
		backend:    client,
		sink:       client,
		getter:     client,
		releaser:   client,
		middleware: mws,
		close: func() {
			client.Close()
			closeLimit()
		},
	}, nil
}

// submitLimiter builds the submission throttle, or nil when disabled.
func submitLimiter(cfg *config.Config) (domain.SubmitMiddleware, func()) {
	if !cfg.RateLimit.Enabled() {
		return nil, func() {}
	}
	if !cfg.RateLimit.Distributed {
		return ratelimit.LimitSubmit(ratelimit.NewLocalBackend(), cfg.RateLimit.Config), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b := ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(client, ""))
	return ratelimit.LimitSubmit(b, cfg.RateLimit.Config), func() { client.Close() }
}

// reportBreaker publishes the breaker state after every submission.
func reportBreaker(target string, b *circuitbreaker.Breaker) domain.SubmitMiddleware {
	return func(next domain.SubmitFunc) domain.SubmitFunc {
		return func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
			refs, err := next(ctx, req)
			metrics.SetCircuitBreakerState(target, int(b.State()))
			return refs, err
		}
	}
}

// fetchAll waits for every ref concurrently, keeping ref order.
func fetchAll(ctx context.Context, g backend.Getter, refs []domain.ObjectRef) ([]any, error) {
	values := make([]any, len(refs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		eg.Go(func() error {
			v, err := g.Get(ctx, ref)
			if err != nil {
				return fmt.Errorf("get result %d: %w", ref.Index, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// release frees the fetched results on the backend. A job id the run made
// up is never reused, so its exported functions go too.
func release(ctx context.Context, r backend.Releaser, refs []domain.ObjectRef, jobID string, ephemeralJob bool) {
	if err := r.Release(ctx, refs...); err != nil {
		logging.Op().Warn("release results failed", "error", err)
	}
	if !ephemeralJob {
		return
	}
	if _, err := r.ReleaseJob(ctx, jobID); err != nil {
		logging.Op().Warn("release job failed", "job", jobID, "error", err)
	}
}

func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
