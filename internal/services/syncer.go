// -----------------------------------------------------------------------
// Last Modified: Sunday, 31st August 2026
// -----------------------------------------------------------------------

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	"github.com/ternarybob/arbor"
)

// Sync triggers. Historical triggers widen the incident query to the
// configured history window; the others fetch active incidents only.
const (
	TriggerStartup    = "startup"
	TriggerScheduled  = "scheduled"
	TriggerManual     = "manual"
	TriggerHistorical = "historical"
)

const apiKeySecret = "incidentio_api_key"

type syncer struct {
	client  interfaces.IncidentClient
	vault   interfaces.Vault
	storage interfaces.Storage
	daily   interfaces.DailyNoteProvider
	notify  interfaces.Notifier
	logger  arbor.ILogger

	syncing atomic.Bool

	mu          sync.RWMutex
	cfg         *common.Config
	lastOutcome *interfaces.SyncOutcome

	// overridable in tests
	now func() time.Time
}

// NewSyncer creates the sync coordinator. daily may be nil, in which case
// the daily note location comes from the active settings snapshot.
func NewSyncer(cfg *common.Config, client interfaces.IncidentClient, vault interfaces.Vault, storage interfaces.Storage, notify interfaces.Notifier, logger arbor.ILogger, daily interfaces.DailyNoteProvider) interfaces.Syncer {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &syncer{
		client:  client,
		vault:   vault,
		storage: storage,
		daily:   daily,
		notify:  notify,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *syncer) UpdateSettings(cfg *common.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info().Msg("Sync settings updated")
}

func (s *syncer) settings() *common.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *syncer) IsSyncing() bool {
	return s.syncing.Load()
}

func (s *syncer) LastOutcome() *interfaces.SyncOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOutcome
}

// Run drives scheduled sync cycles until the context is cancelled.
func (s *syncer) Run(ctx context.Context) {
	interval := time.Duration(s.settings().Collector.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	s.logger.Info().
		Str("interval", interval.String()).
		Msg("Sync scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.SyncNow(TriggerScheduled)
		}
	}
}

// SyncNow runs a single sync cycle. A trigger arriving while another cycle
// is in flight is rejected rather than queued.
func (s *syncer) SyncNow(trigger string) *interfaces.SyncOutcome {
	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Warn().
			Str("trigger", trigger).
			Msg("Sync already in progress, rejecting trigger")
		return &interfaces.SyncOutcome{
			Trigger:   trigger,
			StartedAt: s.now(),
			Rejected:  true,
			Reason:    "sync already in progress",
		}
	}
	defer s.syncing.Store(false)

	cfg := s.settings()
	outcome := &interfaces.SyncOutcome{
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	s.logger.Info().Str("trigger", trigger).Msg("Sync cycle started")
	s.publish("sync_started", map[string]string{"trigger": trigger})

	var historical *interfaces.HistoricalOptions
	if trigger == TriggerHistorical && cfg.Sync.HistoryDays > 0 {
		historical = &interfaces.HistoricalOptions{Days: cfg.Sync.HistoryDays}
	}

	ctx := context.Background()
	progress := func(processed, total int) {
		s.publish("sync_progress", map[string]int{"processed": processed, "total": total})
	}

	result, err := s.client.SyncData(ctx, cfg.Sync.UserIdentifier, historical, progress)
	if err != nil {
		outcome.Reason = err.Error()
		s.finish(outcome)
		return outcome
	}

	for _, full := range result.FullIncidents {
		switch full.StatusCategory {
		case interfaces.CategoryLive, interfaces.CategoryTriage:
			outcome.Active++
		default:
			outcome.Historical++
		}
	}
	if result.OnCall != nil {
		outcome.OnCallSchedules = result.OnCall.Schedules
	}

	if cfg.Sync.CreateIncidentNotes {
		outcome.NotesWritten, outcome.NotesSkipped = s.writeIncidentNotes(cfg, result.FullIncidents)
	}

	today := s.now()
	dates := []time.Time{today}
	if historical != nil && cfg.Sync.Backfill {
		// Oldest day last so the most current note is reconciled first.
		for i := 1; i <= cfg.Sync.HistoryDays; i++ {
			dates = append(dates, today.AddDate(0, 0, -i))
		}
	}

	for _, date := range dates {
		if err := s.reconcileDaily(cfg, result, date, sameDay(date, today)); err != nil {
			s.logger.Warn().
				Err(err).
				Str("date", date.Format("2006-01-02")).
				Msg("Daily note reconcile failed")
			continue
		}
		outcome.DailiesUpdated++
	}

	outcome.Success = true
	s.finish(outcome)
	return outcome
}

// writeIncidentNotes renders one detail note per incident, skipping notes
// whose source data is unchanged since the last write.
func (s *syncer) writeIncidentNotes(cfg *common.Config, fulls []*interfaces.FullIncident) (written, skipped int) {
	if len(fulls) == 0 {
		return 0, 0
	}

	if err := s.vault.CreateFolder(cfg.Sync.IncidentFolder); err != nil {
		s.logger.Error().
			Err(err).
			Str("folder", cfg.Sync.IncidentFolder).
			Msg("Failed to create incident folder")
		return 0, 0
	}

	for _, full := range fulls {
		notePath := path.Join(cfg.Sync.IncidentFolder, full.Reference+".md")
		hash := incidentHash(full)

		doc := s.vault.Resolve(notePath)
		if doc != nil && hash != "" {
			if prev, err := s.storage.LoadNoteHash(full.Reference); err == nil && prev == hash {
				skipped++
				continue
			}
		}

		body := RenderIncidentNote(full, s.now())

		var err error
		if doc != nil {
			err = s.vault.Process(doc, func(string) string { return body })
		} else {
			_, err = s.vault.Create(notePath, body)
		}
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("reference", full.Reference).
				Msg("Failed to write incident note")
			continue
		}

		if hash != "" {
			if err := s.storage.SaveNoteHash(full.Reference, hash); err != nil {
				s.logger.Warn().
					Err(err).
					Str("reference", full.Reference).
					Msg("Failed to save note hash")
			}
		}
		written++
	}

	s.logger.Info().
		Int("written", written).
		Int("skipped", skipped).
		Msg("Incident notes reconciled")
	return written, skipped
}

// reconcileDaily updates the managed section of the daily note for date.
// Only today's note carries the on-call subsection.
func (s *syncer) reconcileDaily(cfg *common.Config, result *interfaces.SyncResult, date time.Time, isToday bool) error {
	folder, format := s.dailyLocation(cfg)
	notePath := path.Join(folder, date.Format(format)+".md")

	opts := SummaryOptions{
		SectionHeader:    cfg.Sync.SectionHeader,
		IncludeOnCall:    cfg.Sync.IncludeOnCall,
		IncludeIncidents: cfg.Sync.IncludeIncidents,
		OmitEmpty:        cfg.Sync.OmitEmptySections,
		LinkToNotes:      cfg.Sync.CreateIncidentNotes,
		IncidentFolder:   cfg.Sync.IncidentFolder,
	}
	body, remove := RenderDailySummary(result, date, isToday, opts)

	doc := s.vault.Resolve(notePath)
	if doc == nil {
		if remove {
			return nil
		}
		if err := s.vault.CreateFolder(folder); err != nil {
			return fmt.Errorf("failed to create daily folder: %w", err)
		}
		if _, err := s.vault.Create(notePath, body+"\n"); err != nil {
			return fmt.Errorf("failed to create daily note: %w", err)
		}
		return nil
	}

	headings, err := s.vault.HeadingIndex(doc)
	if err != nil {
		return fmt.Errorf("failed to index daily note: %w", err)
	}

	return s.vault.Process(doc, func(current string) string {
		if remove {
			return RemoveSection(current, headings, cfg.Sync.SectionHeader)
		}
		return ReplaceSection(current, headings, cfg.Sync.SectionHeader, body)
	})
}

func (s *syncer) dailyLocation(cfg *common.Config) (string, string) {
	if s.daily != nil {
		return s.daily.DailyNoteLocation()
	}
	return cfg.DailyNoteLocation()
}

func (s *syncer) finish(outcome *interfaces.SyncOutcome) {
	outcome.Elapsed = s.now().Sub(outcome.StartedAt)

	s.mu.Lock()
	s.lastOutcome = outcome
	s.mu.Unlock()

	state := &interfaces.SyncState{
		LastSync:    outcome.StartedAt,
		LastTrigger: outcome.Trigger,
		LastSuccess: outcome.Success,
		Active:      outcome.Active,
		Historical:  outcome.Historical,
	}
	if err := s.storage.SaveSyncState(state); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save sync state")
	}

	if outcome.Success {
		s.logger.Info().
			Str("trigger", outcome.Trigger).
			Str("elapsed", outcome.Elapsed.String()).
			Int("active", outcome.Active).
			Int("historical", outcome.Historical).
			Int("notes_written", outcome.NotesWritten).
			Int("notes_skipped", outcome.NotesSkipped).
			Int("dailies_updated", outcome.DailiesUpdated).
			Msg("Sync cycle complete")
	} else {
		s.logger.Error().
			Str("trigger", outcome.Trigger).
			Str("reason", outcome.Reason).
			Msg("Sync cycle failed")
	}

	s.publish("sync_finished", outcome)
}

func (s *syncer) publish(event string, data interface{}) {
	if s.notify != nil {
		s.notify.Publish(event, data)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// incidentHash fingerprints the full incident payload so unchanged notes
// are not rewritten.
func incidentHash(full *interfaces.FullIncident) string {
	data, err := json.Marshal(full)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ResolveAPIKey prefers a key held in the secret store over one read from
// the config file.
func ResolveAPIKey(store interfaces.Storage, cfg *common.Config, logger arbor.ILogger) string {
	if store != nil {
		if key, err := store.GetSecret(apiKeySecret); err == nil && key != "" {
			return key
		}
	}
	if cfg.IncidentIO.APIKey != "" && logger != nil {
		logger.Warn().Msg("API key loaded from config file; store it with the secret store to keep it out of plain settings")
	}
	return cfg.IncidentIO.APIKey
}

// StoreAPIKey writes the API key into the secret store so ResolveAPIKey
// prefers it over any config file value. An empty key clears the stored
// secret, dropping back to the config file.
func StoreAPIKey(store interfaces.Storage, key string) error {
	if key == "" {
		return store.DeleteSecret(apiKeySecret)
	}
	return store.SetSecret(apiKeySecret, key)
}
