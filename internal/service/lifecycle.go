package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelgate/ruleengine/internal/domain/audit"
	"github.com/sentinelgate/ruleengine/internal/domain/catalog"
	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// StartupStatus is returned by Initialize and ForceRefresh.
type StartupStatus struct {
	RulesLoaded   int
	Source        string
	InitializedAt time.Time
}

// RefreshResult is the per-id best-effort outcome of Refresh.
type RefreshResult struct {
	Refreshed []rule.ID
	Failed    map[rule.ID]error
}

// VersionReport is the return shape of CheckVersions.
type VersionReport struct {
	Outdated []rule.ID
	UpToDate []rule.ID
}

// EngineStatus is the return shape of GetStatus.
type EngineStatus struct {
	Initialized bool
	RulesLoaded int
	Source      string
	LastUpdate  time.Time
	CacheStats  catalog.Stats
}

// Initialize loads every rule from the configured source into the cache and
// marks the engine ready for execution. It must precede any execute-shaped
// call (spec §4.I).
func (e *Engine) Initialize(ctx context.Context, projectID string) (StartupStatus, error) {
	if projectID != "" {
		e.mu.Lock()
		e.projectID = projectID
		e.mu.Unlock()
	}

	raws, err := e.ld.LoadAll(ctx, e.currentProjectID())
	if err != nil {
		return StartupStatus{}, err
	}

	loaded := 0
	for id, raw := range raws {
		if err := e.installRaw(ctx, id, raw); err != nil {
			e.logger.Warn("skipping rule that failed to install", "rule_id", id, "error", err)
			continue
		}
		loaded++
	}
	if loaded == 0 && len(raws) > 0 {
		return StartupStatus{}, errs.New(errs.KindConfigError, "no rules could be installed from %d loaded", len(raws))
	}

	now := time.Now()
	e.mu.Lock()
	e.initialized = true
	e.initializedAt = now
	e.lastUpdate = now
	e.mu.Unlock()

	if e.watchable != nil {
		if stop, err := e.watchable.Watch(ctx, e.onChange); err != nil {
			e.logger.Warn("hot reload watch failed to start", "error", err)
		} else {
			e.mu.Lock()
			e.watchStop = stop
			e.mu.Unlock()
		}
	}

	return StartupStatus{RulesLoaded: loaded, Source: string(e.src), InitializedAt: now}, nil
}

// installRaw decodes and inserts one raw rule into the catalog. Rules
// fetched via the catalog wire protocol (spec §6) carry no signature; the
// signed-module flow is a separate, explicit path (see
// Engine.InstallSignedModule) matching the distinct `/modules/{id}/signed`
// endpoint spec §6 describes.
func (e *Engine) installRaw(ctx context.Context, id rule.ID, raw loader.RawRule) error {
	compiled, err := rule.Decode(raw.RawBytes)
	if err != nil {
		return errs.Wrap(errs.KindValidationError, err, "decoding rule %s", id).WithRuleID(string(id))
	}
	entry := rule.Entry{
		Metadata: raw.Metadata,
		RawBytes: raw.RawBytes,
		Compiled: compiled,
		LoadedAt: time.Now().UnixMilli(),
	}
	return e.cat.Insert(ctx, entry)
}

// onChange is the hot-reload callback registered with the loader's
// Watchable facet (spec §4.D).
func (e *Engine) onChange(c loader.Change) {
	ctx := context.Background()
	switch c.Kind {
	case loader.Deleted:
		_ = e.cat.Remove(ctx, c.ID)
	default:
		raw, err := e.ld.LoadOne(ctx, c.ID)
		if err != nil {
			e.logger.Warn("hot reload: reload failed", "rule_id", c.ID, "error", err)
			return
		}
		if err := e.installRaw(ctx, c.ID, raw); err != nil {
			e.logger.Warn("hot reload: install failed", "rule_id", c.ID, "error", err)
			return
		}
	}
	e.mu.Lock()
	e.lastUpdate = time.Now()
	e.mu.Unlock()
}

func (e *Engine) currentProjectID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.projectID
}

// Execute runs sel against input (spec §4.I/§4.G).
func (e *Engine) Execute(ctx context.Context, sel execution.Selector, input execution.Input) (*execution.Result, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}

	started := time.Now()
	executionID := uuid.NewString()

	if ctx.Err() != nil {
		result := execution.NewResult()
		result.State = execution.StateCancelled
		result.ExecutionTimeMs = time.Since(started).Milliseconds()
		e.recordAudit(executionID, sel.Kind, started, result)
		return result, nil
	}

	groups, err := e.resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	result := e.runGroups(ctx, groups, input)
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	if e.prom != nil {
		stats := e.cat.Stats()
		e.prom.ObserveCache(stats.Size, stats.HitRate())
	}

	e.recordAudit(executionID, sel.Kind, started, result)
	return result, nil
}

func (e *Engine) recordAudit(executionID string, kind execution.Kind, started time.Time, result *execution.Result) {
	ids := make([]rule.ID, 0, len(result.Results)+len(result.Errors))
	for id := range result.Results {
		ids = append(ids, id)
	}
	for id := range result.Errors {
		ids = append(ids, id)
	}
	rec := audit.ExecutionRecord{
		ExecutionID:  executionID,
		SelectorKind: kind,
		RuleIDs:      ids,
		StartedAt:    started,
		DurationMs:   float64(result.ExecutionTimeMs),
		Outcome:      result.State,
		ResultCount:  len(result.Results),
		ErrorCount:   len(result.Errors),
	}
	_ = e.auditLog.RecordExecution(context.Background(), rec)
}

// ExecuteRule is a thin convenience over Execute for a single rule id.
func (e *Engine) ExecuteRule(ctx context.Context, id rule.ID, input execution.Input) (*execution.Result, error) {
	return e.Execute(ctx, execution.NewSingle(id), input)
}

// ExecuteByIDs is a thin convenience over Execute for an explicit id list.
func (e *Engine) ExecuteByIDs(ctx context.Context, ids []rule.ID, input execution.Input, mode execution.Mode) (*execution.Result, error) {
	return e.Execute(ctx, execution.NewIDs(ids, mode), input)
}

// ExecuteByTags is a thin convenience over Execute for a tag selector.
func (e *Engine) ExecuteByTags(ctx context.Context, tags []string, input execution.Input, mode execution.Mode) (*execution.Result, error) {
	return e.Execute(ctx, execution.NewTags(tags, mode), input)
}

// CheckVersions reports which cached rules are stale against the loader.
func (e *Engine) CheckVersions(ctx context.Context) (VersionReport, error) {
	if err := e.requireInitialized(); err != nil {
		return VersionReport{}, err
	}
	meta, err := e.cat.SnapshotMetadata(ctx)
	if err != nil {
		return VersionReport{}, err
	}
	current := make(map[rule.ID]rule.Version, len(meta))
	for id, m := range meta {
		current[id] = m.Version
	}
	diffs, err := e.ld.CheckVersions(ctx, current)
	if err != nil {
		return VersionReport{}, err
	}
	report := VersionReport{}
	for id, needsUpdate := range diffs {
		if needsUpdate {
			report.Outdated = append(report.Outdated, id)
		} else {
			report.UpToDate = append(report.UpToDate, id)
		}
	}
	return report, nil
}

// Refresh reloads each id best-effort (spec §4.I). A nil ids slice refreshes
// every currently cached rule.
func (e *Engine) Refresh(ctx context.Context, ids []rule.ID) (RefreshResult, error) {
	if err := e.requireInitialized(); err != nil {
		return RefreshResult{}, err
	}
	if ids == nil {
		meta, err := e.cat.SnapshotMetadata(ctx)
		if err != nil {
			return RefreshResult{}, err
		}
		for id := range meta {
			ids = append(ids, id)
		}
	}

	result := RefreshResult{Failed: make(map[rule.ID]error)}
	for _, id := range ids {
		raw, err := e.ld.LoadOne(ctx, id)
		if err != nil {
			result.Failed[id] = err
			continue
		}
		if err := e.installRaw(ctx, id, raw); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Refreshed = append(result.Refreshed, id)
	}

	e.mu.Lock()
	e.lastUpdate = time.Now()
	e.mu.Unlock()
	return result, nil
}

// ForceRefresh is equivalent to Reset followed by Initialize (spec §4.I).
func (e *Engine) ForceRefresh(ctx context.Context) (StartupStatus, error) {
	e.Reset()
	return e.Initialize(ctx, "")
}

// GetRuleMetadata returns the cached metadata for id.
func (e *Engine) GetRuleMetadata(ctx context.Context, id rule.ID) (rule.Metadata, error) {
	handle, err := e.cat.Get(ctx, id)
	if err != nil {
		return rule.Metadata{}, err
	}
	defer handle.Release()
	return handle.Entry.Metadata, nil
}

// GetAllRuleMetadata returns a point-in-time snapshot of every cached rule's
// metadata.
func (e *Engine) GetAllRuleMetadata(ctx context.Context) (map[rule.ID]rule.Metadata, error) {
	return e.cat.SnapshotMetadata(ctx)
}

// GetRulesByTags resolves the tag union (spec §4.B).
func (e *Engine) GetRulesByTags(ctx context.Context, tags []string) ([]rule.ID, error) {
	return e.cat.ResolveByTags(ctx, tags)
}

// GetStatus reports the engine's current lifecycle and cache state.
func (e *Engine) GetStatus() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineStatus{
		Initialized: e.initialized,
		Source:      string(e.src),
		LastUpdate:  e.lastUpdate,
		CacheStats:  e.cat.Stats(),
	}
}

// Reset discards cached rules and circuit-breaker state and stops any active
// hot-reload watch, returning the engine to an uninitialized state.
func (e *Engine) Reset() {
	e.mu.Lock()
	stop := e.watchStop
	e.watchStop = nil
	e.initialized = false
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.breakers.reset()

	meta, err := e.cat.SnapshotMetadata(context.Background())
	if err == nil {
		for id := range meta {
			_ = e.cat.Remove(context.Background(), id)
		}
	}
}

// Cleanup trims stale metrics rings (spec §4.H, default hourly). It does not
// close the audit log; Close does.
func (e *Engine) Cleanup(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	e.metricsAgg.Cleanup(maxAge)
}

// Close releases the audit log and tracing provider.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	stop := e.watchStop
	e.watchStop = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
	if err := e.tracer.Shutdown(ctx); err != nil {
		e.logger.Warn("tracer shutdown failed", "error", err)
	}
	return e.auditLog.Close()
}
