// Package metrics exports evolution progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"evonet/internal/evo"
)

// Recorder is an evo.Observer backed by its own registry.
type Recorder struct {
	registry *prometheus.Registry

	generation      prometheus.Gauge
	bestFitness     prometheus.Gauge
	meanFitness     prometheus.Gauge
	generations     prometheus.Counter
	evaluations     prometheus.Counter
	checkpoints     prometheus.Counter
	checkpointBytes prometheus.Gauge
	duration        prometheus.Histogram
}

var _ evo.Observer = (*Recorder)(nil)

func NewRecorder(runID string) *Recorder {
	labels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evonet_generation", Help: "Generation currently being evaluated.", ConstLabels: labels,
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evonet_best_fitness", Help: "Best fitness of the last completed generation.", ConstLabels: labels,
		}),
		meanFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evonet_mean_fitness", Help: "Mean fitness of the last completed generation.", ConstLabels: labels,
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evonet_generations_total", Help: "Completed generations.", ConstLabels: labels,
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evonet_evaluations_total", Help: "Fitness evaluations run on rank 0.", ConstLabels: labels,
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evonet_checkpoints_saved_total", Help: "Checkpoints written.", ConstLabels: labels,
		}),
		checkpointBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evonet_checkpoint_bytes", Help: "Size of the last checkpoint.", ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "evonet_generation_duration_seconds",
			Help:        "Wall time per generation.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	r.registry.MustRegister(
		r.generation, r.bestFitness, r.meanFitness,
		r.generations, r.evaluations, r.checkpoints, r.checkpointBytes, r.duration,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) GenerationCompleted(_ context.Context, report evo.GenerationReport) error {
	r.generation.Set(float64(report.Generation + 1))
	r.bestFitness.Set(report.BestFitness)
	r.meanFitness.Set(report.MeanFitness)
	r.generations.Inc()
	r.evaluations.Add(float64(report.Evaluations))
	r.duration.Observe(report.Duration.Seconds())
	return nil
}

func (r *Recorder) CheckpointSaved(_ context.Context, _ int, size int64) error {
	r.checkpoints.Inc()
	r.checkpointBytes.Set(float64(size))
	return nil
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(listener) }()
	logger.Info("metrics endpoint listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
