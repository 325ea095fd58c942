// internal/orchestrator/orchestrator.go
//
// Scan orchestration. One Run drives a single target through
// Idle -> Crawling -> Testing -> Reporting -> Done:
//
//   - permission and configuration are checked before any request is sent
//   - the crawler and every tester share one session owned by the run
//   - a tester that fails or panics is recorded and the next one still runs
//   - a ScanReport is always returned once crawling has started
//   - the session is closed on the way to Done, whatever the outcome

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/core"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/metrics"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/payloads"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

var (
	// ErrPermissionDenied is returned when a scan is started without the
	// operator confirming they are authorized to test the target.
	ErrPermissionDenied = errors.New("scan not authorized: explicit permission to test the target is required")

	ErrScanInProgress = errors.New("a scan is already running on this orchestrator")
)

const crawlPhase = "crawl"

// Options carries the optional collaborators of an Orchestrator. Zero values
// fall back to the built-in payloads, the default testers and no-op
// observability.
type Options struct {
	Catalogue *payloads.Catalogue
	Factory   TesterFactory
	Observer  Observer
	Metrics   *metrics.Recorder
	Telemetry core.Telemetry
	Logger    *logger.Logger
}

// Orchestrator runs scans one at a time.
type Orchestrator struct {
	cfg     *config.Config
	opts    Options
	logger  *logger.Logger
	running atomic.Bool

	mu    sync.RWMutex
	state State
}

func New(cfg *config.Config, opts Options) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNoop()
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.WithComponent("orchestrator"),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Run scans target. Permission and configuration errors are returned before
// any network activity with a nil report. After that a report is always
// returned; the error is non-nil only when ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context, target string, permission bool) (*types.ScanReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer o.running.Store(false)

	o.setState(StateIdle)

	if !permission {
		o.logger.Warnw("Scan refused: permission not granted", "target", target)
		return nil, ErrPermissionDenied
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	seed, err := config.ValidateTarget(target)
	if err != nil {
		return nil, err
	}

	catalogue := o.opts.Catalogue
	if catalogue == nil {
		catalogue, err = payloads.Load(o.cfg.Payloads.File)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}
	factory := o.opts.Factory
	if factory == nil {
		factory = NewDefaultFactory(o.cfg.Scan, catalogue, o.opts.Logger)
	}

	sess, err := session.New(o.sessionOptions(), o.opts.Logger, o.opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	defer sess.Close()

	return o.execute(ctx, seed.String(), sess, factory)
}

func (o *Orchestrator) sessionOptions() session.Options {
	return session.Options{
		Timeout:     o.cfg.Scan.Timeout,
		Delay:       o.cfg.Scan.Delay,
		MaxBodySize: o.cfg.Scan.MaxBodySize,
		UserAgent:   o.cfg.HTTP.UserAgent,
		HTTP: httpclient.ClientConfig{
			BlockPrivateIPs: o.cfg.HTTP.BlockPrivateIPs,
			MaxRedirects:    o.cfg.HTTP.MaxRedirects,
			InsecureSkipTLS: o.cfg.HTTP.InsecureSkipTLS,
			MaxIdleConns:    o.cfg.HTTP.MaxIdleConns,
			IdleConnTimeout: o.cfg.HTTP.IdleConnTimeout,
		},
		RateLimit: ratelimit.Config{
			RequestsPerSecond: o.cfg.RateLimit.RequestsPerSecond,
			BurstSize:         o.cfg.RateLimit.BurstSize,
		},
	}
}

func (o *Orchestrator) execute(ctx context.Context, target string, sess *session.Session, factory TesterFactory) (*types.ScanReport, error) {
	start := time.Now()
	report := &types.ScanReport{
		ID:              uuid.NewString(),
		Target:          target,
		MaxPages:        o.cfg.Scan.MaxPages,
		ChecksPerformed: o.cfg.Scan.Checks(),
		Findings:        []types.Finding{},
		StartedAt:       start.UTC(),
	}
	log := o.logger.WithScanID(report.ID).WithTarget(target)

	ctx, span := log.StartOperation(ctx, "scan", "checks", report.ChecksPerformed)
	o.opts.Metrics.ScanStarted()
	defer o.opts.Metrics.ScanFinished()

	errs := NewErrorAggregator()

	o.moveTo(ctx, log, report.ID, StateCrawling)
	crawl := o.crawl(ctx, log, report, sess, errs)

	if ctx.Err() == nil {
		o.moveTo(ctx, log, report.ID, StateTesting)
		o.test(ctx, log, report, sess, factory, crawl, errs)
	}

	o.moveTo(ctx, log, report.ID, StateReporting)
	types.SortFindings(report.Findings)
	report.CompletedAt = time.Now().UTC()
	report.Duration = time.Since(start)

	switch {
	case ctx.Err() != nil:
		report.Status = types.ScanStatusCancelled
	case errs.HasErrors():
		report.Status = types.ScanStatusPartial
		log.Warnw("Scan finished with failed phases",
			"failed_phases", errs.Phases(),
			"summary", errs.Summary(len(report.Phases)),
		)
	default:
		report.Status = types.ScanStatusCompleted
	}

	o.opts.Telemetry.RecordScan(report.Status, report.Duration.Seconds())
	limits := sess.LimiterStats()
	log.FinishOperation(ctx, span, "scan", start, ctx.Err(),
		"status", report.Status,
		"findings", len(report.Findings),
		"pages", report.PagesScanned,
		"requests", sess.Requests(),
		"rate_limited_requests", limits.Requests,
		"request_delay", limits.RequestDelay.String(),
	)

	sess.Close()
	o.moveTo(ctx, log, report.ID, StateDone)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) crawl(ctx context.Context, log *logger.Logger, report *types.ScanReport,
	sess *session.Session, errs *ErrorAggregator) *web.CrawlResult {

	start := time.Now()
	spider := web.NewSpider(sess, web.Options{
		MaxPages: o.cfg.Scan.MaxPages,
		MaxDepth: o.cfg.Scan.MaxDepth,
	}, o.opts.Logger.WithScanID(report.ID), func(ev web.FetchEvent) {
		outcome := "ok"
		if ev.Err != nil {
			outcome = "failed"
		}
		o.opts.Metrics.ObservePage(outcome)
		o.emit(Event{
			Type:   EventPageFetched,
			ScanID: report.ID,
			Phase:  crawlPhase,
			URL:    ev.URL,
			Depth:  ev.Depth,
			Status: ev.StatusCode,
			Err:    ev.Err,
		})
	})

	crawl, err := spider.Crawl(ctx, report.Target)
	if crawl == nil {
		crawl = &web.CrawlResult{BaseURL: report.Target}
	}

	result := types.PhaseResult{Name: crawlPhase, Duration: time.Since(start)}
	if err != nil && ctx.Err() == nil {
		errs.Add(crawlPhase, err)
		o.opts.Metrics.ObservePhaseFailure(crawlPhase)
		result.Error = err.Error()
	}
	report.Phases = append(report.Phases, result)
	o.opts.Telemetry.RecordPhase(crawlPhase, result.Duration.Seconds(), result.Error != "")

	report.PagesScanned = crawl.TotalPages
	report.FormsTested = crawl.TotalForms
	report.FailedPages = len(crawl.FailedURLs)
	report.ExternalLinks = len(crawl.ExternalLinks)

	log.Infow("Crawl completed",
		"pages", crawl.TotalPages,
		"forms", crawl.TotalForms,
		"failed", len(crawl.FailedURLs),
		"external_links", len(crawl.ExternalLinks),
		"duration", result.Duration.String(),
	)
	return crawl
}

func (o *Orchestrator) test(ctx context.Context, log *logger.Logger, report *types.ScanReport,
	sess *session.Session, factory TesterFactory, crawl *web.CrawlResult, errs *ErrorAggregator) {

	testers, err := factory.Build(sess)
	if err != nil {
		errs.Add("testing", err)
		report.Phases = append(report.Phases, types.PhaseResult{Name: "testing", Error: err.Error()})
		return
	}

	for _, tester := range testers {
		if ctx.Err() != nil {
			return
		}

		name := tester.Name()
		start := time.Now()
		findings, err := runTester(ctx, log, tester, crawl)
		result := types.PhaseResult{Name: name, Findings: len(findings), Duration: time.Since(start)}

		if err != nil && ctx.Err() == nil {
			errs.Add(name, err)
			o.opts.Metrics.ObservePhaseFailure(name)
			result.Error = err.Error()
			log.LogError(ctx, err, "Tester failed", "tester", name)
		}

		for i := range findings {
			if findings[i].Tester == "" {
				findings[i].Tester = name
			}
			f := findings[i]
			o.opts.Metrics.ObserveFinding(name, string(f.Severity))
			o.opts.Telemetry.RecordFinding(f.Severity, f.Kind)
			o.emit(Event{Type: EventFinding, ScanID: report.ID, Phase: name, URL: f.URL, Finding: &f})
		}
		report.Findings = append(report.Findings, findings...)
		report.Phases = append(report.Phases, result)
		o.opts.Telemetry.RecordPhase(name, result.Duration.Seconds(), result.Error != "")

		o.emit(Event{
			Type:     EventPhaseDone,
			ScanID:   report.ID,
			Phase:    name,
			Findings: len(findings),
			Duration: result.Duration,
			Err:      err,
		})
		log.LogScanProgress(ctx, report.ID, name,
			"findings", len(findings),
			"duration", result.Duration.String(),
			"failed", result.Error != "",
		)
	}
}

// runTester converts a panic inside the tester into an error.
func runTester(ctx context.Context, log *logger.Logger, tester scanners.Tester, crawl *web.CrawlResult) (findings []types.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(ctx, r, "tester "+tester.Name(), "stack", string(debug.Stack()))
			findings = nil
			err = fmt.Errorf("tester %s panicked: %v", tester.Name(), r)
		}
	}()
	return tester.Run(ctx, crawl)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) moveTo(ctx context.Context, log *logger.Logger, scanID string, next State) {
	o.mu.Lock()
	prev := o.state
	state, err := prev.transition(next)
	o.state = state
	o.mu.Unlock()

	if err != nil {
		log.LogError(ctx, err, "State transition rejected")
		return
	}
	log.LogScanProgress(ctx, scanID, next.String(), "previous", prev.String())
	o.emit(Event{Type: EventStateChanged, ScanID: scanID, State: next})
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.Observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.opts.Observer(ev)
}
