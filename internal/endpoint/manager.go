// ============================================================================
// Batchkit Endpoint Manager - Pull-Based Work Consumer
// ============================================================================
//
// Package: internal/endpoint
// File: manager.go
// Purpose: Wrap one logical endpoint's concurrency: spawn internal worker
// goroutines that pull work via StealWork and report outcomes back through
// NotifySuccess/NotifyFailure.
//
// Lineage:
//   Adapted from the push-based worker.Pool of the raft-recovery project
//   this module was derived from (workers ranging over a shared task channel
//   fed by a dispatch loop); that package is not part of this module. Here there is no dispatch loop and no task channel: each
//   goroutine is itself the consumer in the StealWork producer/consumer
//   protocol, a pull model instead of a push model.
//
// Concurrency:
//   - Manager.Start spawns Concurrency goroutines, each looping on
//     WorkSource.StealWork until it receives the sentinel (ok == false).
//   - RequestStop flips an atomic flag; goroutines notice it on their next
//     StealWork return (the WorkSource itself also stops handing out work
//     to a retired manager name) and exit.
//   - A sync.WaitGroup tracks goroutine lifetime so RequestStop can block
//     until every one has exited, mirroring that worker.Pool's Stop.
//
// ============================================================================

package endpoint

import (
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/batchkit/internal/logging"
	"github.com/ChuLiYu/batchkit/pkg/types"
)

// WorkSource is the cyclic-reference-breaking interface a Manager is given
// instead of a direct reference to the orchestrator. It exposes exactly the
// three callbacks an EndpointManager is allowed to invoke.
type WorkSource interface {
	StealWork(managerName, language string) (*types.WorkItem, bool)
	NotifyWorkSuccess(filepath types.WorkItemID, managerName string, result types.WorkResult)
	NotifyWorkFailure(filepath types.WorkItemID, managerName string, result types.WorkResult) bool
}

// Manager is the interface the orchestrator's hotswap engine operates on. It
// deliberately exposes nothing about internal concurrency or configuration:
// besides the Name/EndpointName accessors and IsStopRequested, Start,
// RequestStop, and SetEndpointStatusChecker are the whole contract.
type Manager interface {
	Name() string
	EndpointName() string
	Start()
	RequestStop()
	IsStopRequested() bool
	SetEndpointStatusChecker(checker types.EndpointStatusChecker)
}

// defaultManager is the reference Manager implementation: Concurrency
// goroutines, each a StealWork consumer, invoking a WorkItemProcessor and
// reporting through WorkSource.
type defaultManager struct {
	name           string // generation-tagged, e.g. "HotswapGen3_en-us-endpoint"
	endpointName   string // logical name, stable across generations
	config         types.EndpointConfig
	concurrency    int
	source         WorkSource
	processor      types.WorkItemProcessor
	log            logging.Sink
	globalWorkLock *sync.Mutex // process-wide lock held by the manager; Process is not given it

	stopRequested atomic.Bool
	statusChecker atomic.Pointer[types.EndpointStatusChecker]

	wg sync.WaitGroup

	stealCount  atomic.Int64
	successCont atomic.Int64
	failureCont atomic.Int64
}

// Config bundles the construction parameters for a Manager: a generation-
// tagged name, the logical endpoint name, opaque config, the number of
// consumer goroutines, a log sink, the WorkSource callbacks, a global
// work-item lock, and a WorkItemProcessor. The status checker is set
// separately, through SetEndpointStatusChecker.
type Config struct {
	Name           string
	EndpointName   string
	EndpointConfig types.EndpointConfig
	Concurrency    int
	Source         WorkSource
	Processor      types.WorkItemProcessor
	Log            logging.Sink
	GlobalWorkLock *sync.Mutex
}

// NewManager constructs a Manager ready to Start. Concurrency below 1 is
// treated as 1: an endpoint with zero consumers could never drain its share
// of the queue.
func NewManager(cfg Config) Manager {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	m := &defaultManager{
		name:           cfg.Name,
		endpointName:   cfg.EndpointName,
		config:         cfg.EndpointConfig,
		concurrency:    concurrency,
		source:         cfg.Source,
		processor:      cfg.Processor,
		log:            cfg.Log,
		globalWorkLock: cfg.GlobalWorkLock,
	}
	return m
}

func (m *defaultManager) Name() string         { return m.name }
func (m *defaultManager) EndpointName() string { return m.endpointName }

func (m *defaultManager) language() string {
	lang, _ := m.config["language"].(string)
	return lang
}

// Start spawns the manager's consumer goroutines. Non-blocking: goroutines
// run until RequestStop (or the source retires this manager's name).
func (m *defaultManager) Start() {
	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go m.consumeLoop(i)
	}
}

func (m *defaultManager) consumeLoop(slot int) {
	defer m.wg.Done()

	for {
		if m.stopRequested.Load() {
			return
		}

		item, ok := m.source.StealWork(m.name, m.language())
		if !ok {
			return
		}
		m.stealCount.Add(1)

		result := m.processor.Process(item, m.config)
		if result.Success {
			m.successCont.Add(1)
			m.source.NotifyWorkSuccess(item.FilePath, m.name, result)
		} else {
			m.failureCont.Add(1)
			m.source.NotifyWorkFailure(item.FilePath, m.name, result)
		}
	}
}

// RequestStop marks the manager retired and blocks until every consumer
// goroutine has noticed and exited. Idempotent.
func (m *defaultManager) RequestStop() {
	if m.stopRequested.Swap(true) {
		return // already requested
	}
	m.wg.Wait()
}

func (m *defaultManager) IsStopRequested() bool {
	return m.stopRequested.Load()
}

func (m *defaultManager) SetEndpointStatusChecker(checker types.EndpointStatusChecker) {
	m.statusChecker.Store(&checker)
}

// Stats reports lifetime counters, used by the debug loop's per-manager
// introspection dump.
func (m *defaultManager) Stats() map[string]int64 {
	return map[string]int64{
		"stolen":    m.stealCount.Load(),
		"successes": m.successCont.Load(),
		"failures":  m.failureCont.Load(),
	}
}
