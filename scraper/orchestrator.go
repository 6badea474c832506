package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"

	"rescue_scrooper/config"
	"rescue_scrooper/identity"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
	"rescue_scrooper/services"
)

// Phase is a step of one organization's run.
type Phase string

const (
	PhaseInit            Phase = "init"
	PhaseConnected       Phase = "connected"
	PhaseSessionStarted  Phase = "session_started"
	PhaseCollected       Phase = "collected"
	PhaseFiltered        Phase = "filtered"
	PhaseProcessed       Phase = "processed"
	PhaseFailureAssessed Phase = "failure_assessed"
	PhaseFinalized       Phase = "finalized"
)

func (p Phase) started() bool {
	return p != PhaseInit && p != PhaseConnected
}

// RunError is the reason a run ended in a failure record.
type RunError struct {
	OrgID string
	Phase Phase
	Fatal bool
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: failed after %s: %v", e.OrgID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// MediaProcessor re-hosts animal images.
type MediaProcessor interface {
	Health() float64
	ProcessBatch(ctx context.Context, orgID string, animals []models.RawAnimal, batchSize int, concurrent bool) []models.RawAnimal
}

// LogSink receives run-level events for operators (scrape_logs).
type LogSink interface {
	Log(runID *int64, level models.LogLevel, message, orgID string) error
}

type Orchestrator struct {
	cfg        *config.Config
	store      services.Store
	journal    services.RunLogWriter
	sink       LogSink
	media      MediaProcessor
	batches    *services.BatchCoordinator
	collectors map[string]Collector
	logger     *log.Logger

	mu     sync.Mutex
	paused bool
}

func NewOrchestrator(cfg *config.Config, store services.Store, journal services.RunLogWriter) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		journal:    journal,
		batches:    services.NewBatchCoordinator(cfg.Batch),
		collectors: make(map[string]Collector),
		logger:     logging.Get("orchestrator"),
	}
}

func (o *Orchestrator) SetCollector(orgID string, c Collector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collectors[orgID] = c
}

func (o *Orchestrator) SetMedia(m MediaProcessor) {
	o.media = m
}

func (o *Orchestrator) SetLogSink(s LogSink) {
	o.sink = s
}

// runState is what a run has accumulated so far, for partial failure records.
type runState struct {
	phase   Phase
	metrics services.RunMetrics
}

// Run executes one organization's scrape and writes exactly one terminal run
// record. It returns false only when the run could not start: unknown
// organization, unreachable store, no session or a panic before the session
// began. Degraded runs return true.
func (o *Orchestrator) Run(ctx context.Context, orgID string) (ok bool) {
	st := &runState{phase: PhaseInit}
	completion := services.NewCompletionLogger(o.store, o.journal, orgID)
	// the terminal record must survive the run deadline
	finalCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("%s: panic during %s: %v\n%s", orgID, st.phase, r, debug.Stack())
			// a run that got a session counts as attempted
			fatal := !st.phase.started()
			o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Fatal: fatal, Err: fmt.Errorf("panic: %v", r)})
			ok = !fatal
			return
		}
		if !completion.Completed() {
			o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Err: errors.New("run ended without a terminal record")})
		}
	}()

	orgCfg, known := o.cfg.Organizations[orgID]
	o.mu.Lock()
	collector := o.collectors[orgID]
	o.mu.Unlock()
	if !known || collector == nil {
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Fatal: true, Err: ErrUnknownOrganization})
		return false
	}

	runCtx := ctx
	if o.cfg.Scraper.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Scraper.RunTimeout)
		defer cancel()
	}

	detection := o.cfg.DetectionFor(orgID)
	sessions := services.NewSessionManager(o.store, detection.MissingThreshold)
	detector := services.NewFailureDetector(sessions, detection)

	if err := o.store.Ping(runCtx); err != nil {
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Fatal: true, Err: fmt.Errorf("connect: %w", err)})
		return false
	}
	st.phase = PhaseConnected

	session, err := sessions.StartSession(runCtx)
	if err != nil {
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Fatal: true, Err: err})
		return false
	}
	st.phase = PhaseSessionStarted

	if err := completion.Open(runCtx, session.StartedAt); err != nil {
		o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Run log not opened, record will go to journal: %v", err))
	}
	o.log(models.LogLevelInfo, orgID, fmt.Sprintf("Starting scrape for %s (session %s)", orgCfg.Name, session))

	// Collect
	raw, err := collector.Collect(runCtx)
	if err != nil {
		st.metrics.AnimalsFound = len(raw)
		st.metrics.ErrorsCount++
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Err: fmt.Errorf("collect: %w", err)})
		return true
	}
	animals, unidentified := dedupe(raw)
	if unidentified > 0 {
		st.metrics.ErrorsCount += unidentified
		o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Dropped %d records without name, url or id", unidentified))
	}
	if dup := len(raw) - unidentified - len(animals); dup > 0 {
		st.metrics.Notes = append(st.metrics.Notes, fmt.Sprintf("collapsed %d duplicate records", dup))
	}
	st.phase = PhaseCollected

	// Filter
	var tracker services.FilterStatsTracker
	toProcess, skippedIDs := o.filterExisting(runCtx, orgID, orgCfg, animals, st)
	if err := tracker.SetStats(len(animals), len(skippedIDs)); err != nil {
		panic(fmt.Sprintf("filter stats: %v", err))
	}
	st.metrics.AnimalsFound = tracker.CorrectedFoundCount(toProcess)
	st.metrics.AnimalsSkipped = tracker.Skipped()
	st.phase = PhaseFiltered

	// Process
	toProcess = o.processMedia(runCtx, orgID, toProcess, st)
	seenComplete := o.persist(runCtx, orgID, toProcess, sessions, session, st)

	if len(skippedIDs) > 0 {
		n, err := sessions.MarkSkippedAsSeen(runCtx, orgID, skippedIDs, session)
		if err != nil {
			st.metrics.ErrorsCount++
			seenComplete = false
			o.log(models.LogLevelError, orgID, fmt.Sprintf("Mark skipped as seen: %v", err))
		} else if n < len(skippedIDs) {
			o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Only %d of %d skipped animals matched", n, len(skippedIDs)))
		}
	}
	if err := runCtx.Err(); err != nil {
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Err: err})
		return true
	}
	st.phase = PhaseProcessed

	// Assess
	stats, _ := tracker.Stats()
	outcome, err := detector.DetectScraperFailure(runCtx, orgID, st.metrics.AnimalsFound, len(raw), stats.TotalSkipped)
	if err != nil {
		st.metrics.Notes = append(st.metrics.Notes, fmt.Sprintf("failure detection unavailable: %v", err))
		o.log(models.LogLevelError, orgID, fmt.Sprintf("Failure detection: %v", err))
	}
	st.metrics.Outcome = outcome
	st.phase = PhaseFailureAssessed

	switch {
	case !outcome.AllowsDestructiveTransitions():
		st.metrics.Notes = append(st.metrics.Notes, fmt.Sprintf("staleness skipped: %s", outcome))
		o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Outcome %s with %d found, staleness pass skipped", outcome, st.metrics.AnimalsFound))
	case !seenComplete:
		st.metrics.Notes = append(st.metrics.Notes, "staleness skipped: incomplete seen marks")
		o.log(models.LogLevelWarn, orgID, "Some animals could not be marked seen, staleness pass skipped")
	default:
		summary, err := sessions.UpdateStaleness(runCtx, orgID, session)
		if err != nil {
			st.metrics.ErrorsCount++
			o.log(models.LogLevelError, orgID, fmt.Sprintf("Update staleness: %v", err))
		} else {
			st.metrics.Staleness = &summary
		}
	}

	if err := runCtx.Err(); err != nil {
		o.fail(finalCtx, completion, st, &RunError{OrgID: orgID, Phase: st.phase, Err: err})
		return true
	}

	st.metrics.DataQualityScore = services.QualityScore(animals)
	st.phase = PhaseFinalized
	if err := completion.LogSuccess(finalCtx, st.metrics); err != nil {
		o.logger.Printf("%s: %v", orgID, err)
	}

	o.log(models.LogLevelInfo, orgID,
		fmt.Sprintf("Completed (%s): %d found, %d added, %d updated, %d skipped, %d errors",
			outcome, st.metrics.AnimalsFound, st.metrics.AnimalsAdded, st.metrics.AnimalsUpdated,
			st.metrics.AnimalsSkipped, st.metrics.ErrorsCount))
	return true
}

func (o *Orchestrator) fail(ctx context.Context, completion *services.CompletionLogger, st *runState, runErr *RunError) {
	level := models.LogLevelError
	o.log(level, runErr.OrgID, runErr.Error())

	if st.metrics.Outcome == "" {
		st.metrics.Outcome = models.OutcomeFatal
	}
	st.metrics.Notes = append(st.metrics.Notes, fmt.Sprintf("phase: %s", runErr.Phase))
	st.phase = PhaseFinalized
	if err := completion.LogFailure(ctx, runErr.Error(), &st.metrics); err != nil {
		o.logger.Printf("%s: %v", runErr.OrgID, err)
	}
}

// dedupe assigns external ids and keeps the first record per id. Records no
// id can be derived for are counted and dropped.
func dedupe(raw []models.RawAnimal) ([]models.RawAnimal, int) {
	seen := make(map[string]bool, len(raw))
	out := make([]models.RawAnimal, 0, len(raw))
	unidentified := 0

	for _, a := range raw {
		a.ExternalID = identity.ExternalID(&a)
		if a.ExternalID == "" {
			unidentified++
			continue
		}
		if seen[a.ExternalID] {
			continue
		}
		seen[a.ExternalID] = true
		out = append(out, a)
	}
	return out, unidentified
}

// filterExisting drops animals already stored when the organization skips
// existing records. A lookup failure processes everything.
func (o *Orchestrator) filterExisting(ctx context.Context, orgID string, orgCfg *config.OrganizationConfig, animals []models.RawAnimal, st *runState) ([]models.RawAnimal, []string) {
	if !orgCfg.SkipExisting || len(animals) == 0 {
		return animals, nil
	}

	existing, err := o.store.GetExistingExternalIDs(ctx, orgID)
	if err != nil {
		st.metrics.ErrorsCount++
		o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Existing ids lookup failed, processing all: %v", err))
		return animals, nil
	}

	var keep []models.RawAnimal
	var skipped []string
	for _, a := range animals {
		if _, ok := existing[a.ExternalID]; ok {
			skipped = append(skipped, a.ExternalID)
			continue
		}
		keep = append(keep, a)
	}
	if len(skipped) > 0 {
		o.log(models.LogLevelInfo, orgID, fmt.Sprintf("Skipping %d existing of %d found", len(skipped), len(animals)))
	}
	return keep, skipped
}

func (o *Orchestrator) processMedia(ctx context.Context, orgID string, animals []models.RawAnimal, st *runState) []models.RawAnimal {
	if o.media == nil || len(animals) == 0 {
		return animals
	}

	health := o.media.Health()
	if o.batches.ShouldSkipSecondaryProcessing(health) {
		st.metrics.Notes = append(st.metrics.Notes, fmt.Sprintf("media skipped: failure rate %.1f%%", health))
		o.log(models.LogLevelWarn, orgID, fmt.Sprintf("Media failure rate %.1f%%, keeping source image urls", health))
		return animals
	}

	plan := o.batches.PlanBatch(len(animals), health)
	return o.media.ProcessBatch(ctx, orgID, animals, plan.BatchSize, plan.Concurrent)
}

// persist upserts and marks each animal seen. It reports whether every
// persisted animal was marked seen.
func (o *Orchestrator) persist(ctx context.Context, orgID string, animals []models.RawAnimal, sessions *services.SessionManager, session services.SessionToken, st *runState) bool {
	complete := true
	for i := range animals {
		a := &animals[i]
		if ctx.Err() != nil {
			return false
		}

		res, err := o.store.UpsertAnimal(ctx, orgID, a)
		if err != nil {
			st.metrics.ErrorsCount++
			o.log(models.LogLevelError, orgID, fmt.Sprintf("Upsert %s: %v", a.ExternalID, err))
			continue
		}
		switch res.Action {
		case models.UpsertActionAdded:
			st.metrics.AnimalsAdded++
		case models.UpsertActionUpdated:
			st.metrics.AnimalsUpdated++
		}

		if _, err := sessions.MarkSeen(ctx, res.ID, session); err != nil {
			st.metrics.ErrorsCount++
			complete = false
			o.log(models.LogLevelError, orgID, err.Error())
			continue
		}

		if res.PreviousStatus == models.AnimalStatusUnavailable {
			restored, err := sessions.RestoreAvailable(ctx, res.ID)
			if err != nil {
				st.metrics.ErrorsCount++
				o.log(models.LogLevelError, orgID, err.Error())
			} else if restored {
				o.log(models.LogLevelInfo, orgID, fmt.Sprintf("%s is listed again, restored to available", a.ExternalID))
			}
		}
	}
	return complete
}

// RunAll runs every organization in id order. Only fatal runs are reported.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		o.logger.Println("Scraper is paused, skipping run")
		return nil
	}

	var failed []string
	for _, orgID := range o.OrganizationIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !o.Run(ctx, orgID) {
			failed = append(failed, orgID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("fatal runs: %v", failed)
	}
	return nil
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	switch cmd {
	case models.CmdScrapeNow:
		return o.RunAll(ctx)
	case models.CmdScrapeOrg:
		if params != nil && params.Organization != "" {
			if !o.Run(ctx, params.Organization) {
				return fmt.Errorf("run %s failed", params.Organization)
			}
			return nil
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.setPaused(true)
		o.logger.Println("Scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		o.logger.Println("Scraper resumed")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = p
}

func (o *Orchestrator) OrganizationIDs() []string {
	ids := make([]string, 0, len(o.cfg.Organizations))
	for id := range o.cfg.Organizations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) log(level models.LogLevel, orgID, message string) {
	o.logger.Printf("[%s] %s: %s", level, orgID, message)
	if o.sink != nil {
		if err := o.sink.Log(nil, level, message, orgID); err != nil {
			o.logger.Printf("scrape_logs write failed: %v", err)
		}
	}
}
