// ============================================================================
// Batchkit Orchestrator - Endpoint Fleet Hotswap
// ============================================================================
//
// Package: internal/orchestrator
// File: hotswap.go
// Purpose: Reconcile the live EndpointManager fleet against the on-disk
// endpoint configuration file, tearing down managers whose endpoint was
// removed or reconfigured and standing up managers for anything new,
// without ever touching a manager whose config and processor are unchanged.
//
// Design:
//   Load config, bump a generation counter, diff by (endpoint name, config
//   equality, processor type, not already stopped), validate every new
//   endpoint before tearing down anything old (a config error must leave
//   the previous fleet running), reassign in-progress work owned by removed
//   managers back onto the queue, then start the new managers and record
//   them as the current fleet. hashicorp/go-multierror aggregates
//   per-endpoint construction failures instead of aborting on the first one.
//
// ============================================================================

package orchestrator

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-multierror"

	"github.com/ChuLiYu/batchkit/internal/config"
	"github.com/ChuLiYu/batchkit/internal/endpoint"
	"github.com/ChuLiYu/batchkit/pkg/types"
)

// managerMeta tracks, per live manager, the inputs that decided its
// identity so a later hotswap can tell "unchanged" from "needs rebuilding"
// without reaching into the manager itself.
type managerMeta struct {
	endpointName   string
	config         types.EndpointConfig
	processorFnPtr uintptr
}

// hotswap reconciles the live fleet against the current endpoint config
// file and the currently active batch request's factories. It is safe to
// call with no batch active (currentRequest == nil): the fleet is still
// built, using a stub processor factory and no status checker, so every
// endpoint's manager is standing and reconciled before the first batch ever
// arrives; the real factories replace the stub on the hotswap that runs just
// before that batch is dispatched.
func (o *Orchestrator) hotswap() error {
	if o.acct.IsStopRequested() {
		return nil
	}

	o.mu.Lock()
	request := o.currentRequest
	o.mu.Unlock()

	fleet, err := config.LoadFleet(o.opts.ConfigFile, o.opts.StrictConfig)
	if err != nil {
		return fmt.Errorf("load endpoint config: %w", err)
	}

	if o.acct.IsStopRequested() {
		return nil
	}

	var statusFactory types.EndpointStatusCheckerFactory
	var processorFactory types.WorkItemProcessorFactory
	if request != nil {
		statusFactory = request.EndpointStatusCheckerFactory()
		processorFactory = request.WorkItemProcessorFactory()
	} else {
		processorFactory = func() types.WorkItemProcessor { return stubProcessor{} }
	}
	processorPtr := reflect.ValueOf(processorFactory).Pointer()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.endpointGeneration++
	gen := o.endpointGeneration

	keep := make([]endpoint.Manager, 0, len(o.managers))
	keepMeta := make(map[string]managerMeta, len(o.managers))
	var toRemove []endpoint.Manager

	for _, m := range o.managers {
		meta, tracked := o.managerMeta[m.Name()]
		desired, stillWanted := fleet[m.EndpointName()]

		unchanged := tracked && stillWanted && !m.IsStopRequested() &&
			reflect.DeepEqual(meta.config, desired) &&
			meta.processorFnPtr == processorPtr

		if unchanged {
			keep = append(keep, m)
			keepMeta[m.Name()] = meta
			continue
		}
		toRemove = append(toRemove, m)
	}

	// Determine which endpoints need a brand-new manager: anything in the
	// fleet config not represented among the kept managers.
	keptEndpoints := make(map[string]struct{}, len(keep))
	for _, m := range keep {
		keptEndpoints[m.EndpointName()] = struct{}{}
	}

	type pendingEndpoint struct {
		name string
		cfg  types.EndpointConfig
	}
	var toCreate []pendingEndpoint
	for name, cfg := range fleet {
		if _, already := keptEndpoints[name]; already {
			continue
		}
		toCreate = append(toCreate, pendingEndpoint{name: name, cfg: cfg})
	}

	// Validate every endpoint that needs constructing before tearing down
	// anything old: a single bad config must not cost us the working
	// fleet we already had.
	var verr *multierror.Error
	for _, pe := range toCreate {
		if err := validateEndpointConfig(pe.name, pe.cfg); err != nil {
			verr = multierror.Append(verr, err)
		}
	}
	if verr.ErrorOrNil() != nil {
		return fmt.Errorf("endpoint fleet validation failed, keeping previous fleet: %w", verr)
	}

	if o.acct.IsStopRequested() {
		return nil
	}

	// Tear down everything being replaced. Stop is blocking (waits for
	// in-flight consumer goroutines to notice retirement), so do this
	// before reassigning their in-progress work to avoid a race where a
	// goroutine finishes processing and reports back through a manager
	// name about to be retired anyway — RetireManager covers that,
	// ReassignOwnedBy only moves what is left checked out afterward.
	for _, m := range toRemove {
		o.acct.RetireManager(m.Name())
		m.RequestStop()
		o.acct.ReassignOwnedBy(m.Name())
		delete(o.managerMeta, m.Name())
	}

	// Stand up the new managers.
	for _, pe := range toCreate {
		name := fmt.Sprintf("%s%d_%s", hotswapNamePrefix, gen, pe.name)
		mgr := endpoint.NewManager(endpoint.Config{
			Name:           name,
			EndpointName:   pe.name,
			EndpointConfig: pe.cfg,
			Concurrency:    endpointConcurrency(pe.cfg),
			Source:         o,
			Processor:      processorFactory(),
			Log:            o.log.With("manager", name),
			GlobalWorkLock: &o.globalWorkLock,
		})
		if statusFactory != nil {
			mgr.SetEndpointStatusChecker(statusFactory())
		}
		mgr.Start()

		keep = append(keep, mgr)
		keepMeta[mgr.Name()] = managerMeta{
			endpointName:   pe.name,
			config:         pe.cfg,
			processorFnPtr: processorPtr,
		}
	}

	// Refresh the status checker on every surviving manager too, in case
	// this batch's request carries a different checker than the previous
	// one even though the endpoint config itself didn't change.
	if statusFactory != nil {
		for _, m := range keep {
			m.SetEndpointStatusChecker(statusFactory())
		}
	}

	o.managers = keep
	o.managerMeta = keepMeta
	o.lastFleetConfig = fleet

	if o.opts.Metrics != nil {
		stats := o.acct.Stats()
		o.opts.Metrics.UpdateManagerStats(len(keep), stats["old_managers"])
	}

	if len(toRemove) > 0 || len(toCreate) > 0 {
		o.log.Info("hotswapped endpoint fleet",
			"generation", gen, "removed", len(toRemove), "created", len(toCreate), "total", len(keep))
	}

	return nil
}

// validateEndpointConfig rejects configs too malformed to build a manager
// from. The original tolerates broad construction failures via its
// catch-all exception handler; this is the Go-idiomatic stand-in: an
// explicit, narrow check run before any manager is built, so a bad config
// is reported instead of panicking deep inside a processor.
func validateEndpointConfig(name string, cfg types.EndpointConfig) error {
	if cfg == nil {
		return fmt.Errorf("endpoint %q: config is empty", name)
	}
	return nil
}

// stubProcessor stands in for a real WorkItemProcessor while the fleet is
// built ahead of the first batch request. It is never actually invoked: the
// queue it would pull from is only ever populated once a batch is dispatched,
// and by then hotswap has already run again with the real processor factory.
type stubProcessor struct{}

func (stubProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	return types.WorkResult{
		Success:  false,
		CanRetry: true,
		Err:      "stub processor invoked before a batch request was active",
	}
}

// endpointConcurrency reads an optional "concurrency" key out of the
// endpoint's opaque config, defaulting to 1 consumer goroutine.
func endpointConcurrency(cfg types.EndpointConfig) int {
	switch v := cfg["concurrency"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 1
	}
}
