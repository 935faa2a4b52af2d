// Package pipeline runs the sync end to end: resolve country codes, download
// the pcode dataset, write one form per country, and publish the forms to
// every configured target.
//
// Generation failures abort the whole run. Publishing is isolated per target:
// a failed target is recorded in the run and the remaining targets still run.
// Only one run executes at a time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/hdx"
	"github.com/JonMunkholm/pcodesync/internal/history"
	"github.com/JonMunkholm/pcodesync/internal/logging"
	"github.com/JonMunkholm/pcodesync/internal/publish"
	"github.com/JonMunkholm/pcodesync/internal/registry"
)

// Fetcher downloads the pcode dataset.
type Fetcher interface {
	Download(ctx context.Context, query, resourceName, destPath string) (hdx.Download, error)
}

// PlatformFactory returns the publish platform for a target.
type PlatformFactory func(target config.Target) publish.Platform

// Deps are the collaborators of a Runner.
type Deps struct {
	Resolver  registry.Resolver
	Fetcher   Fetcher // nil reuses the dataset already at PCODES_PATH
	Platforms PlatformFactory
	Settler   publish.Settler // nil derives one from the publish config
	Store     history.Store   // nil keeps history in memory
	Clock     core.Clock      // nil uses time.Now
}

type mode int

const (
	modeFull mode = iota
	modeGenerate
	modePublish
)

func (m mode) generates() bool { return m != modePublish }
func (m mode) publishes() bool { return m != modeGenerate }

// Runner executes sync runs.
type Runner struct {
	cfg     *config.Config
	deps    Deps
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewRunner returns a runner for cfg.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Store == nil {
		deps.Store = history.NewMemoryStore(0)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Settler == nil {
		deps.Settler = SettlerFromConfig(cfg.Publish)
	}
	return &Runner{cfg: cfg, deps: deps}
}

// SettlerFromConfig builds the settle step for the configured mode.
func SettlerFromConfig(cfg config.PublishConfig) publish.Settler {
	if strings.EqualFold(cfg.SettleMode, config.SettlePoll) {
		return publish.PollSettler{
			Interval: cfg.PollInterval,
			Timeout:  cfg.PollTimeout,
			MinDelay: cfg.SettleInterval,
		}
	}
	return publish.SleepSettler{Interval: cfg.SettleInterval}
}

// Store returns the run history store.
func (r *Runner) Store() history.Store { return r.deps.Store }

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Run generates and publishes, blocking until done.
func (r *Runner) Run(ctx context.Context, trigger string) (*history.Run, error) {
	return r.execute(ctx, trigger, modeFull)
}

// Generate resolves codes, downloads the dataset and writes the forms without publishing.
func (r *Runner) Generate(ctx context.Context, trigger string) (*history.Run, error) {
	return r.execute(ctx, trigger, modeGenerate)
}

// Publish publishes the forms already present in the output directory.
func (r *Runner) Publish(ctx context.Context, trigger string) (*history.Run, error) {
	return r.execute(ctx, trigger, modePublish)
}

// Start begins a full run in the background and returns its initial record.
// It returns core.ErrRunInProgress when a run is active.
func (r *Runner) Start(ctx context.Context, trigger string) (*history.Run, error) {
	run, runCtx, err := r.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	snapshot := run.Clone()

	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		_ = r.finish(runCtx, run, r.sync(runCtx, run, modeFull))
	}()
	return snapshot, nil
}

// Wait blocks until every active run has finished. A run counts as active
// from the moment begin claims the gate.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) execute(ctx context.Context, trigger string, m mode) (*history.Run, error) {
	run, runCtx, err := r.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	defer r.wg.Done()
	defer r.running.Store(false)

	return run, r.finish(runCtx, run, r.sync(runCtx, run, m))
}

func (r *Runner) begin(ctx context.Context, trigger string) (*history.Run, context.Context, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, nil, core.ErrRunInProgress
	}
	r.wg.Add(1)

	run := &history.Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    history.StatusRunning,
		StartedAt: r.deps.Clock().UTC(),
	}
	ctx = core.ContextWithRunID(ctx, run.ID)

	logging.FromContext(ctx).Info("sync run started", "trigger", trigger)
	r.save(ctx, run)
	return run, ctx, nil
}

func (r *Runner) finish(ctx context.Context, run *history.Run, err error) error {
	run.Finish(r.deps.Clock().UTC(), err)
	r.save(ctx, run)

	logger := logging.FromContext(ctx)
	attrs := []any{
		"status", run.Status,
		"countries", run.Countries,
		"artifacts", run.Artifacts,
		"targets", len(run.Targets),
		"duration_ms", run.Duration().Milliseconds(),
	}
	if err != nil {
		logger.Error("sync run failed", append(attrs, "error", err, "code", run.ErrorCode)...)
	} else {
		logger.Info("sync run finished", attrs...)
	}
	return err
}

func (r *Runner) save(ctx context.Context, run *history.Run) {
	if err := r.deps.Store.Save(ctx, run); err != nil {
		logging.FromContext(ctx).Warn("failed to record run", "error", err)
	}
}

func (r *Runner) sync(ctx context.Context, run *history.Run, m mode) error {
	if m.publishes() {
		if err := r.cfg.RequireTargets(); err != nil {
			return err
		}
	}

	codes, err := r.deps.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	var artifacts []core.Artifact
	if m.generates() {
		countries, written, err := r.generate(ctx, codes)
		run.Countries = countries
		run.Artifacts = len(written)
		if err != nil {
			return err
		}
		artifacts = written
	} else {
		artifacts, err = core.ListArtifacts(r.cfg.Output.Dir)
		if err != nil {
			return err
		}
		run.Artifacts = len(artifacts)
	}

	if m.publishes() {
		run.Targets = r.publishAll(ctx, codes, artifacts)
	}
	return nil
}

// generate downloads the dataset and writes one artifact per country. It
// returns the number of countries in the table even on failure.
func (r *Runner) generate(ctx context.Context, codes core.CountryCodeMap) (int, []core.Artifact, error) {
	logger := logging.FromContext(ctx)

	if r.deps.Fetcher != nil {
		ds := r.cfg.Dataset
		if _, err := r.deps.Fetcher.Download(ctx, ds.Query, ds.ResourceName, ds.Path); err != nil {
			return 0, nil, err
		}
	}

	start := time.Now()
	table, err := core.LoadPcodeTable(r.cfg.Dataset.Path)
	if err != nil {
		return 0, nil, err
	}
	logger.Info("pcode table loaded",
		"rows", table.Len(),
		"countries", table.CountryCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	start = time.Now()
	builder := core.NewFormBuilder(r.deps.Clock)
	writer := core.NewDocumentWriter(r.cfg.Output.Dir)
	artifacts := make([]core.Artifact, 0, table.CountryCount())

	for code := range table.Countries() {
		if err := ctx.Err(); err != nil {
			return table.CountryCount(), artifacts, err
		}
		partition, err := table.Partition(code)
		if err != nil {
			return table.CountryCount(), artifacts, err
		}
		doc, err := builder.Build(partition, codes)
		if err != nil {
			return table.CountryCount(), artifacts, err
		}
		artifact, err := writer.Write(doc)
		if err != nil {
			return table.CountryCount(), artifacts, err
		}
		logger.Debug("form written",
			"country", code,
			"questions", len(doc.Questions),
			"choices", len(doc.Choices),
			"path", artifact.Path,
		)
		artifacts = append(artifacts, artifact)
	}

	logger.Info("forms generated",
		"count", len(artifacts),
		"dir", writer.Dir(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return table.CountryCount(), artifacts, nil
}

// publishAll runs the publish pipeline for every target with bounded
// parallelism. A failing target never cancels the others.
func (r *Runner) publishAll(ctx context.Context, codes core.CountryCodeMap, artifacts []core.Artifact) []history.TargetResult {
	targets := r.cfg.Targets
	results := make([]history.TargetResult, len(targets))

	var g errgroup.Group
	g.SetLimit(max(r.cfg.Publish.MaxParallel, 1))

	for i, target := range targets {
		g.Go(func() error {
			tctx := core.ContextWithTarget(ctx, target.Name)
			results[i] = r.publishTarget(tctx, target, codes, artifacts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) publishTarget(ctx context.Context, target config.Target, codes core.CountryCodeMap, artifacts []core.Artifact) (result history.TargetResult) {
	result.Name = target.Name
	logger := logging.WithFields(ctx, "collection", target.CollectionUID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("publish panicked", "panic", p)
			result.Error = fmt.Sprintf("panic: %v", p)
			result.ErrorCode = "ERR000"
		}
	}()

	pipe := publish.NewPipeline(r.deps.Platforms(target), r.deps.Settler, codes)
	report, err := pipe.Run(ctx, target.CollectionUID, artifacts)

	result.Deleted = report.Deleted
	result.Uploaded = report.Uploaded
	result.Moved = report.Moved
	result.Skipped = report.Skipped
	if err != nil {
		result.Error = err.Error()
		result.ErrorCode = core.ErrorCode(err)
		logger.Error("publish failed", "error", err, "code", result.ErrorCode, slog.Group("report",
			"deleted", report.Deleted, "uploaded", report.Uploaded, "moved", report.Moved))
	}
	return result
}
