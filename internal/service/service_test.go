package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sentinelgate/ruleengine/internal/adapter/outbound/memcache"
	"github.com/sentinelgate/ruleengine/internal/adapter/outbound/obsotel"
	"github.com/sentinelgate/ruleengine/internal/config"
	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// fakeLoader serves a fixed, in-memory set of compiled-graph wire bytes so
// the Engine's facade methods can be exercised without a real cloud/local
// adapter (spec §4.C/§4.D are tested directly against those adapters).
type fakeLoader struct {
	mu    sync.Mutex
	rules map[rule.ID][]byte
	meta  map[rule.ID]rule.Metadata
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{rules: map[rule.ID][]byte{}, meta: map[rule.ID]rule.Metadata{}}
}

// graphJSON's single node id is the rule id, so fakeEvaluator can tell which
// rule a graph belongs to.
const graphJSON = `{"nodes":[{"id":%q,"type":"output","data":{}}],"edges":[]}`

func (f *fakeLoader) set(id rule.ID, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[id] = []byte(fmt.Sprintf(graphJSON, string(id)))
	f.meta[id] = rule.Metadata{ID: id, Version: "v1", Tags: tags}
}

func (f *fakeLoader) LoadAll(ctx context.Context, projectID string) (map[rule.ID]loader.RawRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[rule.ID]loader.RawRule, len(f.rules))
	for id, raw := range f.rules {
		out[id] = loader.RawRule{RawBytes: raw, Metadata: f.meta[id]}
	}
	return out, nil
}

func (f *fakeLoader) LoadOne(ctx context.Context, id rule.ID) (loader.RawRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.rules[id]
	if !ok {
		return loader.RawRule{}, errs.New(errs.KindRuleNotFound, "no such rule %s", id)
	}
	return loader.RawRule{RawBytes: raw, Metadata: f.meta[id]}, nil
}

func (f *fakeLoader) CheckVersions(ctx context.Context, current map[rule.ID]rule.Version) (map[rule.ID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[rule.ID]bool, len(current))
	for id, v := range current {
		out[id] = f.meta[id].Version != v
	}
	return out, nil
}

// fakeEvaluator returns a fixed output, or an error/delay for specific ids,
// letting tests drive the breaker and timeout paths deterministically.
type fakeEvaluator struct {
	mu      sync.Mutex
	failIDs map[rule.ID]bool
	delay   time.Duration
	calls   int
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, graph rule.Compiled, input execution.Input) (execution.Output, *execution.Trace, error) {
	e.mu.Lock()
	e.calls++
	fail := len(graph.Nodes) > 0 && e.failIDs[rule.ID(graph.Nodes[0].ID)]
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if fail {
		return nil, nil, errs.New(errs.KindExecutionError, "forced failure")
	}
	return execution.Output{"ok": true}, nil, nil
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.RuleSource = config.SourceLocal
	cfg.LocalRulesPath = "/tmp/unused"
	cfg.MaxConcurrentEvaluations = 10
	cfg.QueueTimeoutMs = 1000
	cfg.CircuitFailureThreshold = 2
	cfg.MaxRetries = 0
	cfg.RetryBaseDelayMs = 1
	cfg.ExecutionTimeoutMs = 0
	return cfg
}

func newTestEngine(t *testing.T, ld loader.Loader, ev *fakeEvaluator) *Engine {
	t.Helper()
	cat := memcache.New(100)
	return New(testConfig(), nil, ld, cat, ev)
}

func TestEngine_InitializeThenExecuteSingle(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a")
	e := newTestEngine(t, ld, &fakeEvaluator{})

	status, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, status.RulesLoaded)

	result, err := e.ExecuteRule(context.Background(), "rules/a", execution.Input{})
	require.NoError(t, err)
	assert.Equal(t, execution.StateCompleted, result.State)
	assert.Contains(t, result.Results, rule.ID("rules/a"))
}

func TestEngine_ExecuteBeforeInitializeFails(t *testing.T) {
	ld := newFakeLoader()
	e := newTestEngine(t, ld, &fakeEvaluator{})

	_, err := e.ExecuteRule(context.Background(), "rules/a", execution.Input{})
	assert.True(t, errs.Is(err, errs.KindConfigError))
}

func TestEngine_ExecuteByTags_UnionAcrossRules(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a", "pricing")
	ld.set("rules/b", "pricing")
	ld.set("rules/c", "shipping")
	e := newTestEngine(t, ld, &fakeEvaluator{})
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	result, err := e.ExecuteByTags(context.Background(), []string{"pricing"}, execution.Input{}, execution.Parallel)
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.NotContains(t, result.Results, rule.ID("rules/c"))
}

func TestEngine_MixedSelector_LaterGroupsAlwaysRun(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/fail")
	ld.set("rules/ok")
	ev := &fakeEvaluator{failIDs: map[rule.ID]bool{"rules/fail": true}}
	e := newTestEngine(t, ld, ev)
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	sel := execution.NewMixed([]execution.Group{
		{Rules: []rule.ID{"rules/fail"}, Mode: execution.Sequential},
		{Rules: []rule.ID{"rules/ok"}, Mode: execution.Sequential},
	})
	result, err := e.Execute(context.Background(), sel, execution.Input{})
	require.NoError(t, err)
	assert.Contains(t, result.Errors, rule.ID("rules/fail"))
	assert.Contains(t, result.Results, rule.ID("rules/ok"), "a failure in an earlier group must not prevent a later group from running")
	assert.Equal(t, execution.StateCompleted, result.State)
}

func TestEngine_AllRulesFail_StateIsFailed(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/fail")
	ev := &fakeEvaluator{failIDs: map[rule.ID]bool{"rules/fail": true}}
	e := newTestEngine(t, ld, ev)
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	result, err := e.ExecuteRule(context.Background(), "rules/fail", execution.Input{})
	require.NoError(t, err)
	assert.Equal(t, execution.StateFailed, result.State)
}

func TestEngine_CancelledContextBeforeExecute(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a")
	e := newTestEngine(t, ld, &fakeEvaluator{})
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.ExecuteRule(ctx, "rules/a", execution.Input{})
	require.NoError(t, err)
	assert.Equal(t, execution.StateCancelled, result.State)
	assert.Empty(t, result.Results)
	assert.Empty(t, result.Errors)
}

func TestEngine_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/flaky")
	ev := &fakeEvaluator{failIDs: map[rule.ID]bool{"rules/flaky": true}}
	e := newTestEngine(t, ld, ev)
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	// CircuitFailureThreshold is 2 in testConfig.
	_, _ = e.ExecuteRule(context.Background(), "rules/flaky", execution.Input{})
	_, _ = e.ExecuteRule(context.Background(), "rules/flaky", execution.Input{})

	result, err := e.ExecuteRule(context.Background(), "rules/flaky", execution.Input{})
	require.NoError(t, err)
	kerr := result.Errors["rules/flaky"]
	require.Error(t, kerr)
	assert.True(t, errs.Is(kerr, errs.KindCircuitOpen), "a third failure beyond the threshold must short-circuit via the breaker")
}

func TestEngine_CheckVersionsAndRefresh(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a")
	e := newTestEngine(t, ld, &fakeEvaluator{})
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	report, err := e.CheckVersions(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.UpToDate, rule.ID("rules/a"))

	ld.set("rules/a") // same version, simulate a no-op refresh source
	res, err := e.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Refreshed, rule.ID("rules/a"))
	assert.Empty(t, res.Failed)
}

func TestEngine_RefreshUnknownRuleFails(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a")
	e := newTestEngine(t, ld, &fakeEvaluator{})
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	res, err := e.Refresh(context.Background(), []rule.ID{"rules/ghost"})
	require.NoError(t, err)
	assert.Empty(t, res.Refreshed)
	assert.Contains(t, res.Failed, rule.ID("rules/ghost"))
}

func TestEngine_MeterProviderReceivesSystemStats(t *testing.T) {
	meter, err := obsotel.NewMeterProvider(io.Discard, time.Millisecond)
	require.NoError(t, err)
	defer meter.Shutdown(context.Background())

	ld := newFakeLoader()
	ld.set("rules/a")
	cat := memcache.New(100)
	e := New(testConfig(), nil, ld, cat, &fakeEvaluator{}, WithMeterProvider(meter))

	_, err = e.Initialize(context.Background(), "")
	require.NoError(t, err)

	_, err = e.ExecuteRule(context.Background(), "rules/a", execution.Input{})
	require.NoError(t, err)

	stats := e.metricsAgg.SystemStats()
	assert.Equal(t, int64(1), stats.TotalExecutions, "the aggregator the meter observes must reflect real executions")
}

func TestEngine_SQLiteAuditLog_RecordsRealExecution(t *testing.T) {
	cfg := testConfig()
	cfg.AuditDBPath = filepath.Join(t.TempDir(), "audit.db")
	auditLog, err := NewAuditLog(cfg, nil)
	require.NoError(t, err)
	defer auditLog.Close()

	ld := newFakeLoader()
	ld.set("rules/a")
	cat := memcache.New(100)
	e := New(cfg, nil, ld, cat, &fakeEvaluator{}, WithAuditLog(auditLog))
	_, err = e.Initialize(context.Background(), "")
	require.NoError(t, err)

	result, err := e.ExecuteRule(context.Background(), "rules/a", execution.Input{})
	require.NoError(t, err)
	require.Equal(t, execution.StateCompleted, result.State)

	db, err := sql.Open("sqlite", cfg.AuditDBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM executions`).Scan(&count))
	assert.Equal(t, 1, count, "a real execution through the engine must leave a row in the audit trail")
}

func TestEngine_GetStatusAndReset(t *testing.T) {
	ld := newFakeLoader()
	ld.set("rules/a")
	e := newTestEngine(t, ld, &fakeEvaluator{})
	_, err := e.Initialize(context.Background(), "")
	require.NoError(t, err)

	status := e.GetStatus()
	assert.True(t, status.Initialized)
	assert.Equal(t, 1, status.CacheStats.Size)

	e.Reset()
	status = e.GetStatus()
	assert.False(t, status.Initialized)
	assert.Equal(t, 0, status.CacheStats.Size)

	_, err = e.ExecuteRule(context.Background(), "rules/a", execution.Input{})
	assert.True(t, errs.Is(err, errs.KindConfigError))
}
