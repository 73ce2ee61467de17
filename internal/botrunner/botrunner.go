// Package botrunner wires a Supplier, Source, Sink, optional Distributor,
// and Runner together per a BotRunnerConfig, and serves health/metrics
// endpoints alongside them. It is the glue the cmd/botrunner binary
// drives; kept separate from cmd/ so it can be imported and tested
// without going through cobra.
package botrunner

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/botrunner/internal/botrunner/configuration"
	"github.com/armadaproject/botrunner/internal/common/health"
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/distributor"
	"github.com/armadaproject/botrunner/pkg/distributor/transport/localtransport"
	"github.com/armadaproject/botrunner/pkg/runner"
	"github.com/armadaproject/botrunner/pkg/sequentializer"
	"github.com/armadaproject/botrunner/pkg/sink"
	"github.com/armadaproject/botrunner/pkg/source"
	"github.com/armadaproject/botrunner/pkg/supplier"
	"github.com/armadaproject/botrunner/pkg/supplier/httpsupplier"
	"github.com/armadaproject/botrunner/pkg/supplier/pulsarsupplier"
	"github.com/armadaproject/botrunner/pkg/update"
)

// ConsumeFunc is the user handler. The botrunner binary ships a basic
// logging handler as its default; embedders of this package supply their
// own.
type ConsumeFunc func(ctx *runnercontext.Context, u update.Update) error

// Option customises StartUp's wiring beyond what BotRunnerConfig can
// express in a config file, for concerns that are inherently a function of
// the embedder's own handler rather than static configuration.
type Option func(*options)

type options struct {
	keysFor func(update.Update) []string
}

// WithSequentializer serializes updates whose keysFor-derived key sets
// overlap, ahead of both the optional Distributor fan-out and the Sink,
// while leaving disjoint-key updates to run concurrently. There is no
// config-file equivalent: only the embedder's own handler knows what
// constitutes an overlapping key (e.g. a chat session id).
func WithSequentializer(keysFor func(update.Update) []string) Option {
	return func(o *options) { o.keysFor = keysFor }
}

// StartUp assembles the full pipeline described by config and starts it.
// It returns a shutdown function and a WaitGroup that releases once the
// Runner's task and every server StartUp started have all exited,
// mirroring the shutdown/wg pair returned by this codebase's other StartUp
// functions. A Runner that stops on its own leaves the servers running, so
// the WaitGroup then releases only after shutdown closes them.
func StartUp(config *configuration.BotRunnerConfig, consume ConsumeFunc, opts ...Option) (func(), *sync.WaitGroup) {
	ctx := runnercontext.Background()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.keysFor != nil {
		consume = ConsumeFunc(sequentializer.New().Middleware(o.keysFor, sequentializer.Handler(consume)))
	}

	baseSupplier := buildSupplier(config)
	fetcher := supplier.NewFetcher(baseSupplier, supplier.FetcherConfig{
		MaxRetryTime:  time.Duration(config.Supplier.MaxRetryTimeMilliseconds) * time.Millisecond,
		RetryInterval: parseRetryInterval(config.Supplier.RetryInterval),
		Silent:        config.Supplier.Silent,
	})

	src := source.New(fetcher, source.Config{
		SpeedTrafficBalance:  config.Source.SpeedTrafficBalance,
		MaxDelayMilliseconds: config.Source.MaxDelayMilliseconds,
		DedupeCacheSize:      config.Source.DedupeCacheSize,
		Name:                 "botrunner",
	})

	handle, dist := wireHandler(config, consume)

	sk := buildSink(config, handle)

	r := runner.New(ctx, src, sk)
	task := r.Start()

	healthServer := buildHealthServer(config.HealthPort, r)
	metricsServer := buildMetricsServer(config.MetricsPort)

	group, _ := runnercontext.ErrGroup(ctx)
	group.Go(task.Wait)
	group.Go(func() error { return listenAndServe(healthServer) })
	group.Go(func() error { return listenAndServe(metricsServer) })

	var pprofServer *http.Server
	if config.PprofPort != nil {
		pprofServer = buildPprofServer(*config.PprofPort)
		group.Go(func() error { return listenAndServe(pprofServer) })
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := group.Wait(); err != nil {
			logrus.WithError(err).Error("botrunner: a startup goroutine exited with an error")
		}
	}()

	shutdown := func() {
		r.Stop().Wait()
		_ = healthServer.Close()
		_ = metricsServer.Close()
		if pprofServer != nil {
			_ = pprofServer.Close()
		}
		if dist != nil {
			_ = dist.Close()
		}
	}

	return shutdown, &wg
}

func buildSupplier(config *configuration.BotRunnerConfig) supplier.Supplier {
	switch config.Supplier.Kind {
	case "http", "":
		s := httpsupplier.New(config.Supplier.HTTP.BaseURL, &http.Client{})
		if config.Supplier.HTTP.LongPollTimeoutSeconds > 0 {
			s.LongPollTimeout = time.Duration(config.Supplier.HTTP.LongPollTimeoutSeconds) * time.Second
		}
		return s
	case "pulsar":
		return buildPulsarSupplier(config.Supplier.Pulsar)
	default:
		logrus.Fatalf("botrunner: unknown supplier kind %q", config.Supplier.Kind)
		return nil
	}
}

// pulsarRecord mirrors httpsupplier.Record's wire shape: the runner is
// agnostic to transport, so a decoded message carries the same
// update_id/payload envelope whether it arrived over HTTP or Pulsar.
type pulsarRecord struct {
	ID      int64           `json:"update_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r pulsarRecord) UpdateID() int64 { return r.ID }

func decodePulsarRecord(msg pulsar.Message) (update.Update, error) {
	var r pulsarRecord
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		return nil, fmt.Errorf("decoding pulsar message %v: %w", msg.ID(), err)
	}
	return r, nil
}

func buildPulsarSupplier(config configuration.PulsarSupplierConfig) supplier.Supplier {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: config.URL})
	if err != nil {
		logrus.WithError(err).Fatal("botrunner: failed to create pulsar client")
	}
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            config.Topic,
		SubscriptionName: config.SubscriptionName,
		Type:             pulsar.KeyShared,
	})
	if err != nil {
		logrus.WithError(err).Fatal("botrunner: failed to subscribe to pulsar topic")
	}
	timeout := time.Duration(config.ReceiveTimeoutSeconds) * time.Second
	return pulsarsupplier.New(consumer, decodePulsarRecord, timeout)
}

func buildSink(config *configuration.BotRunnerConfig, handle ConsumeFunc) sink.Sink {
	ctx := runnercontext.Background()
	opts := sink.Options{
		Concurrency: config.Sink.Concurrency,
		Timeout:     time.Duration(config.Sink.TimeoutMilliseconds) * time.Millisecond,
		Consume:     handle,
		Name:        "botrunner",
	}
	switch config.Sink.Mode {
	case "sequential":
		return sink.NewSequential(ctx, opts)
	case "batch":
		return sink.NewBatch(ctx, opts)
	default:
		return sink.NewConcurrent(ctx, opts)
	}
}

// wireHandler optionally fans consume out across a Distributor-backed
// worker pool of in-process transports, returning the function the Sink
// should actually call.
func wireHandler(config *configuration.BotRunnerConfig, consume ConsumeFunc) (ConsumeFunc, *distributor.Distributor) {
	if !config.Distributor.Enabled {
		return consume, nil
	}

	n := config.Distributor.Count
	if n <= 0 {
		n = distributor.DefaultCount
	}

	transports := make([]distributor.Transport, n)
	for i := 0; i < n; i++ {
		pair := localtransport.NewPair()
		transports[i] = pair.Parent
		go func() {
			_ = pair.Worker.Run(func(seed distributor.Seed, u update.Update) error {
				return consume(runnercontext.Background(), u)
			})
		}()
	}

	dist, err := distributor.New(nil, transports)
	if err != nil {
		logrus.WithError(err).Fatal("botrunner: failed to start distributor")
	}

	return func(ctx *runnercontext.Context, u update.Update) error {
		return dist.Process(ctx, u)
	}, dist
}

func parseRetryInterval(interval string) supplier.RetryInterval {
	switch interval {
	case "quadratic":
		return supplier.QuadraticInterval(100 * time.Millisecond)
	case "exponential", "":
		return supplier.ExponentialInterval(100 * time.Millisecond)
	default:
		if ms, err := strconv.Atoi(interval); err == nil {
			return supplier.FixedInterval(time.Duration(ms) * time.Millisecond)
		}
		logrus.Warnf("botrunner: unrecognised retryInterval %q, defaulting to exponential", interval)
		return supplier.ExponentialInterval(100 * time.Millisecond)
	}
}

func buildHealthServer(port uint16, r *runner.Runner) *http.Server {
	mux := http.NewServeMux()
	health.SetupMux(mux, runner.NewChecker(r))
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

func buildMetricsServer(port uint16) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

func buildPprofServer(port uint16) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	return &http.Server{Addr: fmt.Sprintf("localhost:%d", port), Handler: mux}
}

// listenAndServe runs srv.ListenAndServe, treating the expected Close-driven
// shutdown as success so the StartUp errgroup only surfaces genuine failures.
func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
