package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"FaceVerify/logger"
	"FaceVerify/verify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	VerdictVerified   = "verified"
	VerdictUnverified = "unverified"
	VerdictError      = "error"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})

	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifications_total",
		Help: "Verification attempts by verdict",
	}, []string{"verdict"})

	VerificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_duration_seconds",
		Help:    "Wall time of one verification attempt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	VerificationScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_score",
		Help:    "Similarity scores produced against reference images",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	DisplayFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "display_frames_total",
		Help: "Display loop ticks by result",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, Verifications, VerificationDuration, VerificationScore, DisplayFrames)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Observe records one verification attempt; it has the verify.Observer shape.
func Observe(res *verify.Result, err error) {
	switch {
	case err != nil:
		Verifications.WithLabelValues(VerdictError).Inc()
	case res != nil && res.Verified:
		Verifications.WithLabelValues(VerdictVerified).Inc()
	default:
		Verifications.WithLabelValues(VerdictUnverified).Inc()
	}
	if res == nil {
		return
	}
	VerificationDuration.Observe(res.Duration.Seconds())
	for _, s := range res.Scores {
		VerificationScore.Observe(float64(s))
	}
}

func ObserveFrame(rendered bool) {
	if rendered {
		DisplayFrames.WithLabelValues("rendered").Inc()
		return
	}
	DisplayFrames.WithLabelValues("skipped").Inc()
}

// ProcessSampler feeds the memory and CPU gauges from this process.
type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc}, nil
}

func (p *ProcessSampler) Sample() error {
	memInfo, err := p.proc.MemoryInfo()
	if err != nil {
		return err
	}
	cpuPercent, err := p.proc.CPUPercent()
	if err != nil {
		return err
	}
	memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	return nil
}

// StartMon serves /metrics on port and samples the process every 500ms
// until ctx is done.
func StartMon(ctx context.Context, port int) error {
	sampler, err := NewProcessSampler()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Int("port", port), zap.Error(err))
		}
	}()
	logger.Log().Info("metrics server started", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if err := sampler.Sample(); err != nil {
				logger.Log().Debug("process sample failed", zap.Error(err))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
