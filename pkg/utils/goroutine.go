// Package utils holds test helpers shared by the SDK packages.
package utils

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

// ModulePath prefixes every function name of this module in a stack trace.
const ModulePath = "github.com/chancetop/aistream-go/"

// GoroutineLeakDetector compares goroutine counts before and after a test
// section. Only goroutines whose stack contains one of the filters are
// counted, by default those running code of this module, so runtime and
// net/http housekeeping goroutines do not make the check flaky.
type GoroutineLeakDetector struct {
	tb            testing.TB
	filters       []string
	initial       int
	allowedGrowth int
	timeout       time.Duration
	interval      time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to tb.
func NewGoroutineLeakDetector(tb testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		tb:       tb,
		filters:  []string{ModulePath},
		timeout:  2 * time.Second,
		interval: 20 * time.Millisecond,
	}
}

// Start records the baseline.
func (d *GoroutineLeakDetector) Start() {
	d.initial = len(d.goroutines())
	d.tb.Logf("Starting goroutine count: %d", d.initial)
}

// Check waits up to the timeout for the count to fall back to the baseline
// plus the allowed growth and fails the test otherwise.
func (d *GoroutineLeakDetector) Check() {
	d.tb.Helper()

	deadline := time.Now().Add(d.timeout)
	current := d.goroutines()
	for len(current)-d.initial > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.interval)
		current = d.goroutines()
	}

	leaked := len(current) - d.initial
	if leaked <= d.allowedGrowth {
		d.tb.Logf("No goroutine leak: started with %d, ended with %d", d.initial, len(current))
		return
	}

	d.tb.Errorf("Goroutine leak detected: started with %d, ended with %d (leaked: %d, allowed: %d)",
		d.initial, len(current), leaked, d.allowedGrowth)
	d.tb.Logf("Counted goroutines:\n%s", strings.Join(current, "\n\n"))
}

// SetAllowedGrowth sets how many extra goroutines Check tolerates.
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetTimeout sets how long Check waits for goroutines to exit.
func (d *GoroutineLeakDetector) SetTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.timeout = timeout
	return d
}

// Filter replaces the stack substrings a goroutine must contain to be
// counted. No filters counts every goroutine.
func (d *GoroutineLeakDetector) Filter(substrings ...string) *GoroutineLeakDetector {
	d.filters = substrings
	return d
}

// goroutines returns the stacks of the counted goroutines.
func (d *GoroutineLeakDetector) goroutines() []string {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	var out []string
	for _, stack := range strings.Split(string(buf), "\n\n") {
		if strings.HasPrefix(stack, "goroutine ") && d.matches(stack) {
			out = append(out, stack)
		}
	}
	return out
}

func (d *GoroutineLeakDetector) matches(stack string) bool {
	if len(d.filters) == 0 {
		return true
	}
	for _, f := range d.filters {
		if strings.Contains(stack, f) {
			return true
		}
	}
	return false
}
