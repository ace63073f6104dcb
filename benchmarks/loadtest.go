// Package benchmarks provides performance and load testing for stream controllers
package benchmarks

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chancetop/aistream-go/pkg/client"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/protocol"
)

// LoadTestConfig configures load testing parameters
type LoadTestConfig struct {
	// Number of concurrent controllers
	Controllers int

	// Number of lifecycles per controller
	LifecyclesPerController int

	// Lifecycle rate limit (lifecycles per second, 0 = unlimited)
	RateLimit int

	// Test duration (0 = run until all lifecycles complete)
	Duration time.Duration

	// Ramp up period for gradual load increase
	RampUpTime time.Duration

	// Mix of lifecycle kinds to run
	Mix LifecycleMix

	// Target API
	BaseURL           string
	StreamRequest     protocol.RequestOptions
	SingleShotRequest protocol.RequestOptions

	// Upper bound for one lifecycle
	LifecycleTimeout time.Duration

	// Reporting interval
	ReportInterval time.Duration
}

// LifecycleMix defines the distribution of streaming and single-shot lifecycles
type LifecycleMix struct {
	Streaming  float64
	SingleShot float64
}

// LoadTestResult contains the results of a load test
type LoadTestResult struct {
	TotalLifecycles      int64
	SuccessfulLifecycles int64
	FailedLifecycles     int64
	TotalMessages        int64
	TotalDuration        time.Duration

	// Latency statistics (in milliseconds), connect to close
	MinLatency float64
	MaxLatency float64
	AvgLatency float64
	P50Latency float64
	P90Latency float64
	P95Latency float64
	P99Latency float64

	// Throughput
	LifecyclesPerSecond float64
	MessagesPerSecond   float64

	// Error breakdown by error code
	ErrorCounts map[string]int64

	// Per-kind metrics
	KindMetrics map[string]*KindMetrics
}

// KindMetrics tracks metrics for one lifecycle kind
type KindMetrics struct {
	Count      int64
	Successful int64
	Failed     int64
	TotalTime  time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration

	mu        sync.Mutex
	latencies []time.Duration
}

const (
	kindStreaming  = "streaming"
	kindSingleShot = "single-shot"
)

// LoadTester drives many controllers against one API
type LoadTester struct {
	config LoadTestConfig

	// Metrics
	totalLifecycles      int64
	successfulLifecycles int64
	failedLifecycles     int64
	totalMessages        int64
	errorCounts          sync.Map
	kindMetrics          sync.Map

	// Control
	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLoadTester creates a new load tester
func NewLoadTester(config LoadTestConfig) *LoadTester {
	if config.ReportInterval == 0 {
		config.ReportInterval = 5 * time.Second
	}
	if config.LifecycleTimeout == 0 {
		config.LifecycleTimeout = 30 * time.Second
	}

	total := config.Mix.Streaming + config.Mix.SingleShot
	if total == 0 {
		config.Mix = LifecycleMix{Streaming: 80, SingleShot: 20}
		total = 100
	}
	config.Mix.Streaming /= total
	config.Mix.SingleShot /= total

	return &LoadTester{
		config: config,
		stopCh: make(chan struct{}),
	}
}

// lifecycleRunner owns one controller and reports when each lifecycle ends.
type lifecycleRunner struct {
	c        *client.Controller
	done     chan struct{}
	messages atomic.Int64
}

// Run executes the load test
func (lt *LoadTester) Run(ctx context.Context) (*LoadTestResult, error) {
	if lt.config.Controllers <= 0 {
		return nil, fmt.Errorf("controllers must be positive")
	}
	lt.startTime = time.Now()
	defer lt.stop()

	go lt.reportProgress()

	runners := make([]*lifecycleRunner, lt.config.Controllers)
	for i := range runners {
		runners[i] = lt.createRunner()
	}
	defer func() {
		for _, r := range runners {
			r.c.Destroy()
		}
	}()

	rateLimiter := lt.createRateLimiter()

	for i, r := range runners {
		lt.wg.Add(1)
		go lt.runController(ctx, r, rateLimiter)

		if lt.config.RampUpTime > 0 && i < len(runners)-1 {
			time.Sleep(lt.config.RampUpTime / time.Duration(len(runners)-1))
		}
	}

	done := make(chan struct{})
	go func() {
		lt.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if lt.config.Duration > 0 {
		timer := time.NewTimer(lt.config.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		lt.stop()
		lt.wg.Wait()
	case <-ctx.Done():
		lt.stop()
		lt.wg.Wait()
	}

	return lt.calculateResults(), nil
}

func (lt *LoadTester) stop() {
	lt.stopOnce.Do(func() { close(lt.stopCh) })
}

// runController runs one controller's workload
func (lt *LoadTester) runController(ctx context.Context, r *lifecycleRunner, rateLimiter <-chan struct{}) {
	defer lt.wg.Done()

	for count := 0; lt.config.LifecyclesPerController <= 0 || count < lt.config.LifecyclesPerController; count++ {
		if rateLimiter != nil {
			select {
			case <-rateLimiter:
			case <-lt.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-lt.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		lt.runLifecycle(ctx, r, lt.selectKind())
	}
}

// selectKind chooses a lifecycle kind based on the configured mix
func (lt *LoadTester) selectKind() string {
	if rand.Float64() < lt.config.Mix.Streaming {
		return kindStreaming
	}
	return kindSingleShot
}

// runLifecycle connects, waits for the lifecycle to end and records metrics
func (lt *LoadTester) runLifecycle(ctx context.Context, r *lifecycleRunner, kind string) {
	req := lt.config.StreamRequest
	if kind == kindSingleShot {
		req = lt.config.SingleShotRequest
		req.Streaming = protocol.Bool(false)
	}

	atomic.AddInt64(&lt.totalLifecycles, 1)
	r.messages.Store(0)
	start := time.Now()
	r.c.Connect(req)

	var errCode string
	select {
	case <-r.done:
		if e := r.c.State().Error; e != nil {
			errCode = e.Code
		}
	case <-time.After(lt.config.LifecycleTimeout):
		errCode = "LIFECYCLE_TIMEOUT"
		r.c.Disconnect()
		<-r.done
	case <-ctx.Done():
		errCode = "CANCELLED"
		r.c.Disconnect()
		<-r.done
	}

	duration := time.Since(start)
	atomic.AddInt64(&lt.totalMessages, r.messages.Load())
	lt.getKindMetrics(kind).recordLifecycle(duration, errCode != "")

	if errCode != "" {
		atomic.AddInt64(&lt.failedLifecycles, 1)
		lt.recordError(errCode)
	} else {
		atomic.AddInt64(&lt.successfulLifecycles, 1)
	}
}

// getKindMetrics returns metrics for a lifecycle kind
func (lt *LoadTester) getKindMetrics(kind string) *KindMetrics {
	v, _ := lt.kindMetrics.LoadOrStore(kind, &KindMetrics{})
	metrics, _ := v.(*KindMetrics)
	return metrics
}

// recordLifecycle records a single lifecycle's metrics
func (m *KindMetrics) recordLifecycle(duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Count++
	m.TotalTime += duration

	if failed {
		m.Failed++
	} else {
		m.Successful++
	}

	if m.MinTime == 0 || duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.latencies = append(m.latencies, duration)
}

// recordError counts an error code
func (lt *LoadTester) recordError(code string) {
	v, _ := lt.errorCounts.LoadOrStore(code, new(int64))
	counter, _ := v.(*int64)
	atomic.AddInt64(counter, 1)
}

// createRateLimiter creates a rate limiter channel
func (lt *LoadTester) createRateLimiter() <-chan struct{} {
	if lt.config.RateLimit <= 0 {
		return nil
	}

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(lt.config.RateLimit))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				case <-lt.stopCh:
					return
				}
			case <-lt.stopCh:
				return
			}
		}
	}()

	return ch
}

// reportProgress periodically reports test progress
func (lt *LoadTester) reportProgress() {
	ticker := time.NewTicker(lt.config.ReportInterval)
	defer ticker.Stop()

	lastLifecycles := int64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			current := atomic.LoadInt64(&lt.totalLifecycles)
			now := time.Now()
			rate := float64(current-lastLifecycles) / now.Sub(lastTime).Seconds()

			log.Printf("Progress: %d lifecycles (%.1f/s), %d successful, %d failed, %d messages",
				current, rate,
				atomic.LoadInt64(&lt.successfulLifecycles),
				atomic.LoadInt64(&lt.failedLifecycles),
				atomic.LoadInt64(&lt.totalMessages))

			lastLifecycles = current
			lastTime = now

		case <-lt.stopCh:
			return
		}
	}
}

// calculateResults computes the final test results
func (lt *LoadTester) calculateResults() *LoadTestResult {
	duration := time.Since(lt.startTime)

	result := &LoadTestResult{
		TotalLifecycles:      atomic.LoadInt64(&lt.totalLifecycles),
		SuccessfulLifecycles: atomic.LoadInt64(&lt.successfulLifecycles),
		FailedLifecycles:     atomic.LoadInt64(&lt.failedLifecycles),
		TotalMessages:        atomic.LoadInt64(&lt.totalMessages),
		TotalDuration:        duration,
		ErrorCounts:          make(map[string]int64),
		KindMetrics:          make(map[string]*KindMetrics),
	}
	result.LifecyclesPerSecond = float64(result.TotalLifecycles) / duration.Seconds()
	result.MessagesPerSecond = float64(result.TotalMessages) / duration.Seconds()

	lt.errorCounts.Range(func(key, value interface{}) bool {
		code, _ := key.(string)
		counter, _ := value.(*int64)
		result.ErrorCounts[code] = atomic.LoadInt64(counter)
		return true
	})

	var allLatencies []time.Duration
	lt.kindMetrics.Range(func(key, value interface{}) bool {
		kind, _ := key.(string)
		metrics, _ := value.(*KindMetrics)

		result.KindMetrics[kind] = metrics
		metrics.mu.Lock()
		allLatencies = append(allLatencies, metrics.latencies...)
		metrics.mu.Unlock()
		return true
	})

	if len(allLatencies) > 0 {
		slices.Sort(allLatencies)
		result.MinLatency = milliseconds(allLatencies[0])
		result.MaxLatency = milliseconds(allLatencies[len(allLatencies)-1])
		result.AvgLatency = milliseconds(avgDuration(allLatencies))
		result.P50Latency = milliseconds(percentileDuration(allLatencies, 50))
		result.P90Latency = milliseconds(percentileDuration(allLatencies, 90))
		result.P95Latency = milliseconds(percentileDuration(allLatencies, 95))
		result.P99Latency = milliseconds(percentileDuration(allLatencies, 99))
	}

	return result
}

// createRunner creates a controller whose lifecycle ends are observable
func (lt *LoadTester) createRunner() *lifecycleRunner {
	r := &lifecycleRunner{done: make(chan struct{}, 1)}
	signalDone := func() {
		select {
		case r.done <- struct{}{}:
		default:
		}
	}

	r.c = client.New(lt.config.BaseURL,
		client.WithLogger(logging.Nop()),
		client.WithOnMessage(func(*protocol.DataMessage) { r.messages.Add(1) }),
		client.WithOnError(func(error) {
			if r.c.Settled() {
				signalDone()
			}
		}),
		client.WithOnDisconnect(signalDone),
	)
	return r
}

// Helper functions for statistics

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func avgDuration(durations []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentileDuration(sortedDurations []time.Duration, percentile float64) time.Duration {
	index := int(math.Ceil(float64(len(sortedDurations))*percentile/100.0)) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sortedDurations) {
		index = len(sortedDurations) - 1
	}
	return sortedDurations[index]
}

// PrintResults prints load test results in a readable format
func (r *LoadTestResult) PrintResults() {
	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Total Duration: %s\n", r.TotalDuration)
	fmt.Printf("Total Lifecycles: %d\n", r.TotalLifecycles)
	if r.TotalLifecycles > 0 {
		fmt.Printf("Successful: %d (%.1f%%)\n", r.SuccessfulLifecycles,
			float64(r.SuccessfulLifecycles)/float64(r.TotalLifecycles)*100)
		fmt.Printf("Failed: %d (%.1f%%)\n", r.FailedLifecycles,
			float64(r.FailedLifecycles)/float64(r.TotalLifecycles)*100)
	}
	fmt.Printf("Lifecycles/sec: %.2f\n", r.LifecyclesPerSecond)
	fmt.Printf("Messages: %d (%.2f/sec)\n", r.TotalMessages, r.MessagesPerSecond)

	fmt.Println("\nLatency Statistics (ms):")
	fmt.Printf("  Min: %.2f\n", r.MinLatency)
	fmt.Printf("  Avg: %.2f\n", r.AvgLatency)
	fmt.Printf("  P50: %.2f\n", r.P50Latency)
	fmt.Printf("  P90: %.2f\n", r.P90Latency)
	fmt.Printf("  P95: %.2f\n", r.P95Latency)
	fmt.Printf("  P99: %.2f\n", r.P99Latency)
	fmt.Printf("  Max: %.2f\n", r.MaxLatency)

	if len(r.KindMetrics) > 0 {
		fmt.Println("\nLifecycle Breakdown:")
		for kind, metrics := range r.KindMetrics {
			fmt.Printf("  %s:\n", kind)
			fmt.Printf("    Count: %d\n", metrics.Count)
			fmt.Printf("    Success Rate: %.1f%%\n",
				float64(metrics.Successful)/float64(metrics.Count)*100)
			fmt.Printf("    Avg Time: %.2fms\n", milliseconds(metrics.TotalTime)/float64(metrics.Count))
		}
	}

	if len(r.ErrorCounts) > 0 {
		fmt.Println("\nError Summary:")
		for code, count := range r.ErrorCounts {
			fmt.Printf("  %s: %d\n", code, count)
		}
	}
}
