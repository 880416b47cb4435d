package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient satisfies interfaces.IncidentClient with a pluggable SyncData.
type stubClient struct {
	syncData func(ctx context.Context, userIdentifier string, historical *interfaces.HistoricalOptions, progress interfaces.ProgressFunc) (*interfaces.SyncResult, error)
}

func (s *stubClient) TestConnection(ctx context.Context) interfaces.ConnectionResult {
	return interfaces.ConnectionResult{Success: true}
}

func (s *stubClient) FindUser(ctx context.Context, identifier string) (*interfaces.User, error) {
	return &interfaces.User{ID: "u1", Email: identifier}, nil
}

func (s *stubClient) ListIncidents(ctx context.Context, filter interfaces.IncidentFilter) ([]interfaces.Incident, error) {
	return nil, nil
}

func (s *stubClient) GetFullIncidentDetails(ctx context.Context, inc interfaces.Incident) *interfaces.FullIncident {
	return &interfaces.FullIncident{Incident: inc}
}

func (s *stubClient) CheckOnCall(ctx context.Context, user *interfaces.User) *interfaces.OnCallResult {
	return nil
}

func (s *stubClient) SyncData(ctx context.Context, userIdentifier string, historical *interfaces.HistoricalOptions, progress interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
	return s.syncData(ctx, userIdentifier, historical, progress)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Publish(event string, data interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testSyncConfig(vaultPath string, dbPath string) *common.Config {
	cfg := common.DefaultConfig()
	cfg.Sync.UserIdentifier = "alice@example.com"
	cfg.Sync.SectionHeader = "## Incidents"
	cfg.Sync.IncludeOnCall = true
	cfg.Sync.IncludeIncidents = true
	cfg.Sync.CreateIncidentNotes = true
	cfg.Sync.IncidentFolder = "Incidents"
	cfg.Sync.HistoryDays = 2
	cfg.Sync.Backfill = true
	cfg.Vault.Path = vaultPath
	cfg.Vault.DailyFolder = "Daily"
	cfg.Vault.DailyFormat = "2006-01-02"
	cfg.Storage.DatabasePath = dbPath
	return cfg
}

func newTestSyncer(t *testing.T, client interfaces.IncidentClient, notify interfaces.Notifier) (interfaces.Syncer, *common.Config, string) {
	t.Helper()

	vaultDir := t.TempDir()
	cfg := testSyncConfig(vaultDir, filepath.Join(t.TempDir(), "sync.db"))

	store, err := NewStorage(&cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	v, err := NewVault(&cfg.Vault, common.GetLogger())
	require.NoError(t, err)

	return NewSyncer(cfg, client, v, store, notify, common.GetLogger(), nil), cfg, vaultDir
}

func openIncident(reference string, createdAgo time.Duration) *interfaces.FullIncident {
	return &interfaces.FullIncident{
		Incident: interfaces.Incident{
			ID:             "id-" + reference,
			Reference:      reference,
			Name:           "Something broke",
			Status:         "Investigating",
			StatusCategory: interfaces.CategoryLive,
			CreatedAt:      time.Now().Add(-createdAgo),
		},
		URL: "https://app.incident.io/incidents/id-" + reference,
	}
}

func singleIncidentResult() *interfaces.SyncResult {
	full := openIncident("INC-1", time.Hour)
	return &interfaces.SyncResult{
		OnCall:        &interfaces.OnCallResult{Schedules: []string{"Primary"}},
		FullIncidents: []*interfaces.FullIncident{full},
		Incidents: []interfaces.IncidentResult{
			{Reference: full.Reference, Name: full.Name, Status: full.Status, URL: full.URL},
		},
	}
}

func TestSyncNowWritesArtifacts(t *testing.T) {
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return singleIncidentResult(), nil
		},
	}

	s, cfg, vaultDir := newTestSyncer(t, client, nil)

	outcome := s.SyncNow(TriggerManual)

	require.True(t, outcome.Success, "reason: %s", outcome.Reason)
	assert.False(t, outcome.Rejected)
	assert.Equal(t, 1, outcome.Active)
	assert.Equal(t, 1, outcome.NotesWritten)
	assert.Equal(t, 0, outcome.NotesSkipped)
	assert.Equal(t, 1, outcome.DailiesUpdated)
	assert.Equal(t, []string{"Primary"}, outcome.OnCallSchedules)

	note, err := os.ReadFile(filepath.Join(vaultDir, "Incidents", "INC-1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(note), "reference: INC-1")

	dailyPath := filepath.Join(vaultDir, "Daily", time.Now().Format(cfg.Vault.DailyFormat)+".md")
	daily, err := os.ReadFile(dailyPath)
	require.NoError(t, err)
	assert.Contains(t, string(daily), "## Incidents")
	assert.Contains(t, string(daily), "### On-call")
	assert.Contains(t, string(daily), "[[Incidents/INC-1|INC-1: Something broke]]")

	assert.Equal(t, outcome, s.LastOutcome())
}

func TestSyncNowSkipsUnchangedNotes(t *testing.T) {
	result := singleIncidentResult()
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return result, nil
		},
	}

	s, _, _ := newTestSyncer(t, client, nil)

	first := s.SyncNow(TriggerManual)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.NotesWritten)

	second := s.SyncNow(TriggerManual)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.NotesWritten)
	assert.Equal(t, 1, second.NotesSkipped)
}

func TestSyncNowRejectsConcurrentCycle(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			close(started)
			<-release
			return &interfaces.SyncResult{}, nil
		},
	}

	s, _, _ := newTestSyncer(t, client, nil)

	done := make(chan *interfaces.SyncOutcome, 1)
	go func() { done <- s.SyncNow(TriggerScheduled) }()

	<-started
	assert.True(t, s.IsSyncing())

	rejected := s.SyncNow(TriggerManual)
	assert.True(t, rejected.Rejected)
	assert.Equal(t, "sync already in progress", rejected.Reason)
	assert.False(t, rejected.Success)

	close(release)
	outcome := <-done
	assert.False(t, outcome.Rejected)
	assert.False(t, s.IsSyncing())
}

func TestSyncNowReportsFailure(t *testing.T) {
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return nil, common.NewSyncError(common.CodeNoUserMatch, "no user found matching \"ghost\"")
		},
	}

	s, _, _ := newTestSyncer(t, client, nil)

	outcome := s.SyncNow(TriggerManual)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Reason, "no user found")
	assert.False(t, s.IsSyncing())
}

func TestSyncNowHistoricalBackfill(t *testing.T) {
	var gotHistorical *interfaces.HistoricalOptions
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, historical *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			gotHistorical = historical
			result := singleIncidentResult()
			// Open incident created before the window start shows on every day
			result.FullIncidents[0].CreatedAt = time.Now().AddDate(0, 0, -5)
			return result, nil
		},
	}

	s, cfg, vaultDir := newTestSyncer(t, client, nil)

	outcome := s.SyncNow(TriggerHistorical)

	require.True(t, outcome.Success, "reason: %s", outcome.Reason)
	require.NotNil(t, gotHistorical)
	assert.Equal(t, cfg.Sync.HistoryDays, gotHistorical.Days)

	// Today plus HistoryDays of backfill
	assert.Equal(t, cfg.Sync.HistoryDays+1, outcome.DailiesUpdated)

	for i := 0; i <= cfg.Sync.HistoryDays; i++ {
		date := time.Now().AddDate(0, 0, -i)
		path := filepath.Join(vaultDir, "Daily", date.Format(cfg.Vault.DailyFormat)+".md")
		content, err := os.ReadFile(path)
		require.NoError(t, err, "missing daily note for %s", date.Format("2006-01-02"))
		assert.Contains(t, string(content), "INC-1")

		if i > 0 {
			assert.NotContains(t, string(content), "On-call",
				"backfilled day %d must not carry on-call status", i)
		}
	}
}

func TestSyncNowScheduledSkipsHistory(t *testing.T) {
	var gotHistorical *interfaces.HistoricalOptions
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, historical *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			gotHistorical = historical
			return singleIncidentResult(), nil
		},
	}

	s, _, _ := newTestSyncer(t, client, nil)

	outcome := s.SyncNow(TriggerScheduled)

	require.True(t, outcome.Success)
	assert.Nil(t, gotHistorical)
	assert.Equal(t, 1, outcome.DailiesUpdated)
}

func TestSyncNowPublishesEvents(t *testing.T) {
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return singleIncidentResult(), nil
		},
	}

	notify := &recordingNotifier{}
	s, _, _ := newTestSyncer(t, client, notify)

	s.SyncNow(TriggerManual)

	events := notify.all()
	assert.Contains(t, events, "sync_started")
	assert.Contains(t, events, "sync_finished")
}

func TestSyncNowSavesState(t *testing.T) {
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return singleIncidentResult(), nil
		},
	}

	vaultDir := t.TempDir()
	cfg := testSyncConfig(vaultDir, filepath.Join(t.TempDir(), "sync.db"))

	store, err := NewStorage(&cfg.Storage)
	require.NoError(t, err)
	defer store.Close()

	v, err := NewVault(&cfg.Vault, common.GetLogger())
	require.NoError(t, err)

	s := NewSyncer(cfg, client, v, store, nil, common.GetLogger(), nil)
	s.SyncNow(TriggerScheduled)

	state, err := store.LoadSyncState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, TriggerScheduled, state.LastTrigger)
	assert.True(t, state.LastSuccess)
	assert.Equal(t, 1, state.Active)
}

func TestUpdateSettingsSwapsSnapshot(t *testing.T) {
	client := &stubClient{
		syncData: func(ctx context.Context, _ string, _ *interfaces.HistoricalOptions, _ interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
			return singleIncidentResult(), nil
		},
	}

	s, cfg, vaultDir := newTestSyncer(t, client, nil)

	updated := *cfg
	updated.Sync.CreateIncidentNotes = false
	s.UpdateSettings(&updated)

	outcome := s.SyncNow(TriggerManual)
	require.True(t, outcome.Success)
	assert.Equal(t, 0, outcome.NotesWritten)

	_, err := os.Stat(filepath.Join(vaultDir, "Incidents", "INC-1.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreAPIKeyFeedsResolution(t *testing.T) {
	cfg := testSyncConfig(t.TempDir(), filepath.Join(t.TempDir(), "sync.db"))
	cfg.IncidentIO.APIKey = "file-key"

	store, err := NewStorage(&cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, StoreAPIKey(store, "stored-key"))
	assert.Equal(t, "stored-key", ResolveAPIKey(store, cfg, common.GetLogger()))

	// Clearing the secret drops resolution back to the config file
	require.NoError(t, StoreAPIKey(store, ""))
	assert.Equal(t, "file-key", ResolveAPIKey(store, cfg, common.GetLogger()))
}
