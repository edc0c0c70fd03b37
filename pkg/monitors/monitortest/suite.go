// Package monitortest holds shared checks for scheduler.Monitor
// implementations.
package monitortest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/scheduler"
	"github.com/stretchr/testify/assert"
)

// MonitorTestSuite runs the checks every periodic monitor must pass.
type MonitorTestSuite struct {
	t           *testing.T
	monitor     scheduler.Monitor
	testTimeout time.Duration
}

// NewMonitorTestSuite creates a new test suite
func NewMonitorTestSuite(t *testing.T, monitor scheduler.Monitor) *MonitorTestSuite {
	return &MonitorTestSuite{
		t:           t,
		monitor:     monitor,
		testTimeout: 5 * time.Second,
	}
}

// WithTimeout sets how long a single Run may take.
func (mts *MonitorTestSuite) WithTimeout(timeout time.Duration) *MonitorTestSuite {
	mts.testTimeout = timeout
	return mts
}

// RunBasicTests executes standard monitor tests
func (mts *MonitorTestSuite) RunBasicTests() {
	mts.t.Run("TestMonitorName", mts.testMonitorName)
	mts.t.Run("TestMonitorRun", mts.testMonitorRun)
	mts.t.Run("TestMonitorCancelledContext", mts.testMonitorCancelledContext)
	mts.t.Run("TestMonitorConcurrency", mts.testMonitorConcurrency)
}

func (mts *MonitorTestSuite) testMonitorName(t *testing.T) {
	name := mts.monitor.Name()
	assert.NotEmpty(t, name, "Monitor name should not be empty")
	assert.NotContains(t, name, " ", "Monitor name should not contain spaces")
}

func (mts *MonitorTestSuite) testMonitorRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), mts.testTimeout)
	defer cancel()

	start := time.Now()
	assert.NotPanics(t, func() {
		mts.monitor.Run(ctx)
	}, "Monitor Run should not panic")
	assert.Less(t, time.Since(start), mts.testTimeout, "Monitor Run should return before the timeout")
}

func (mts *MonitorTestSuite) testMonitorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() {
		mts.monitor.Run(ctx)
	}, "Monitor Run should tolerate a cancelled context")
}

func (mts *MonitorTestSuite) testMonitorConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	errors := make(chan error, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errors <- fmt.Errorf("panic: %v", r)
				}
			}()
			mts.monitor.Run(context.Background())
		}()
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		assert.NoError(t, err, "Concurrent monitor execution should not error")
	}
}
