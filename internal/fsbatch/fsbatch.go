// ============================================================================
// Batchkit Filesystem Batch Request - Reference BatchRequest Implementation
// ============================================================================
//
// Package: internal/fsbatch
// File: fsbatch.go
// Purpose: A concrete, directory-walking types.BatchRequest so the CLI's
// submit command has something real to construct from its --dir flag
// without requiring every embedder to bring their own BatchRequest just to
// try the orchestrator out. Production embedders are expected to supply
// their own BatchRequest wired to their actual endpoint transport; this one
// turns each file into a work item, and its PassthroughProcessor reports
// success for every file it can read, useful for smoke-testing a fleet
// config.
//
// Lineage:
//   MakeWorkItems lists r.Dir the way generateTestJobs in the raft-recovery
//   project this module was derived from (not part of this module) builds a
//   batch of synthetic jobs from a directory listing, adapted from
//   one-job-per-loop-iteration to one-WorkItem-per-file.
//
// ============================================================================

package fsbatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

// Request is a directory-of-files batch: every file directly under Dir
// (optionally filtered by Extensions) becomes one WorkItem, with Language
// taken from the configured default.
type Request struct {
	ID            int64
	Dir           string
	Extensions    []string // e.g. [".wav", ".mp3"]; empty means all files
	Language      string
	CombineOutput bool

	processorFactory types.WorkItemProcessorFactory
	checkerFactory   types.EndpointStatusCheckerFactory
}

// New constructs a Request. processor is required; checker may be nil, in
// which case every endpoint is always considered healthy.
func New(id int64, dir string, extensions []string, language string, combine bool,
	processor types.WorkItemProcessorFactory, checker types.EndpointStatusCheckerFactory) *Request {

	if checker == nil {
		checker = func() types.EndpointStatusChecker { return alwaysHealthy{} }
	}
	return &Request{
		ID:               id,
		Dir:              dir,
		Extensions:       extensions,
		Language:         language,
		CombineOutput:    combine,
		processorFactory: processor,
		checkerFactory:   checker,
	}
}

func (r *Request) BatchID() int64        { return r.ID }
func (r *Request) CombineResults() bool  { return r.CombineOutput }

// MakeWorkItems lists the immediate children of r.Dir (not basePath — Dir is
// the source of input files; basePath is where this batch's artifacts, like
// its run summary, are written) and builds one WorkItem per matching file.
func (r *Request) MakeWorkItems(basePath string) ([]*types.WorkItem, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("list batch input directory %s: %w", r.Dir, err)
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create batch base path %s: %w", basePath, err)
	}

	items := make([]*types.WorkItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !r.matchesExtension(entry.Name()) {
			continue
		}
		items = append(items, &types.WorkItem{
			FilePath: filepath.Join(r.Dir, entry.Name()),
			Language: r.Language,
		})
	}
	return items, nil
}

func (r *Request) matchesExtension(name string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range r.Extensions {
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// CombineBatchResults concatenates every work item's result into one JSON
// file under basePath, keyed by the item's original file path. Satisfies
// types.BatchResultCombiner; invoked by the orchestrator at batch conclusion
// when CombineOutput is set.
func (r *Request) CombineBatchResults(basePath string, results map[types.WorkItemID]*types.WorkResult) error {
	combined := make(map[string]*types.WorkResult, len(results))
	for id, result := range results {
		combined[id] = result
	}

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal combined results: %w", err)
	}

	outPath := filepath.Join(basePath, "combined_output.json")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write combined results to %s: %w", outPath, err)
	}
	return nil
}

func (r *Request) EndpointStatusCheckerFactory() types.EndpointStatusCheckerFactory {
	return r.checkerFactory
}

func (r *Request) WorkItemProcessorFactory() types.WorkItemProcessorFactory {
	return r.processorFactory
}

func (r *Request) RunSummarizer() types.BatchRunSummarizer {
	return summarizer{}
}

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(string) bool { return true }

// summarizer renders a RunSnapshot into the plain counts/rates shape printed
// by the CLI's submit command and stored as the run-summary artifact.
type summarizer struct{}

func (summarizer) RunSummary(snap types.RunSnapshot) map[string]any {
	succeeded, failed := 0, 0
	for _, result := range snap.WorkResults {
		if result == nil {
			continue
		}
		if result.Success {
			succeeded++
		} else {
			failed++
		}
	}

	elapsed := time.Since(time.UnixMilli(snap.StartTimeUnix))

	return map[string]any{
		"batch_id":       snap.BatchID,
		"queued":         snap.QueuedCount,
		"in_progress":    snap.InProgress,
		"succeeded":      succeeded,
		"failed":         failed,
		"endpoint_count": snap.EndpointCount,
		"elapsed_seconds": elapsed.Seconds(),
		"conclusion":     snap.LogConclusion,
	}
}

// PassthroughProcessor is a trivial WorkItemProcessor used for smoke-testing
// a fleet config: it reads the file and reports success with the byte
// count, or a retriable failure if the file cannot be read.
type PassthroughProcessor struct{}

func (PassthroughProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	data, err := os.ReadFile(item.FilePath)
	if err != nil {
		return types.WorkResult{
			Attempts: 1,
			CanRetry: true,
			Success:  false,
			Err:      err.Error(),
		}
	}
	return types.WorkResult{
		Attempts: 1,
		Success:  true,
		Data:     map[string]any{"bytes": len(data)},
	}
}
