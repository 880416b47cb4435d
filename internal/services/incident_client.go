package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
)

const (
	apiV1 = "v1"
	apiV2 = "v2"

	incidentPageSize = 250
	detailBatchSize  = 5
	batchPause       = 50 * time.Millisecond
)

type incidentClient struct {
	client *resty.Client
	logger arbor.ILogger
	jitter JitterFunc
	sleep  func(time.Duration)
}

func NewIncidentClient(config *common.IncidentIOConfig, logger arbor.ILogger) interfaces.IncidentClient {
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetAuthToken(config.APIKey).
		SetTimeout(time.Duration(config.TimeoutSeconds) * time.Second).
		SetHeader("Accept", "application/json")

	return &incidentClient{
		client: client,
		logger: logger,
		jitter: DefaultJitter,
		sleep:  time.Sleep,
	}
}

// request performs one logical GET with up to maxRetries attempts. Retry
// state is per call; 429 honours the Retry-After header, 5xx and transport
// errors use the exponential schedule, any other 4xx fails immediately.
func (ic *incidentClient) request(ctx context.Context, version, endpoint string, query url.Values, out interface{}) error {
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < maxRetries; attempt++ {
		// No point sleeping after the last attempt fails
		final := attempt == maxRetries-1

		req := ic.client.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParamsFromValues(query)
		}

		resp, err := req.Get(fmt.Sprintf("/%s/%s", version, endpoint))
		if err != nil {
			lastErr = err
			ic.logger.Warn().Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Transport error, retrying")
			if !final {
				ic.wait(attempt, "")
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return common.WrapError(err, common.ErrorTypeAPI, "decode_failed",
					fmt.Sprintf("failed to decode %s response", endpoint))
			}
			return nil

		case status == http.StatusTooManyRequests:
			lastStatus = status
			hint := resp.Header().Get("Retry-After")
			ic.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Str("retry_after", hint).
				Msg("Rate limited, backing off")
			if !final {
				ic.wait(attempt, hint)
			}

		case status >= 500:
			lastStatus = status
			ic.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Int("status", status).
				Msg("Server error, retrying")
			if !final {
				ic.wait(attempt, "")
			}

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return common.NewAuthError(common.CodeRequestFailed,
				fmt.Sprintf("incident.io API returned status %d", status)).
				WithContext("endpoint", endpoint).
				WithContext("status", status)

		default:
			apiErr := common.NewAPIError(common.CodeRequestFailed,
				fmt.Sprintf("incident.io API returned status %d", status)).
				WithContext("endpoint", endpoint).
				WithContext("status", status)
			if status == http.StatusNotFound {
				apiErr.Code = common.CodeNotFound
			}
			return apiErr
		}
	}

	maxErr := common.NewNetworkError(common.CodeMaxRetriesExceeded,
		fmt.Sprintf("max retries exceeded for %s", endpoint)).
		WithCause(lastErr)
	if lastStatus != 0 {
		maxErr = maxErr.WithContext("last_status", lastStatus)
	}
	return maxErr
}

func (ic *incidentClient) wait(attempt int, retryAfterHint string) {
	delay := CalculateBackoff(attempt, retryAfterHint, ic.jitter)
	ic.sleep(time.Duration(delay) * time.Millisecond)
}

// TestConnection probes the API with a minimal users request. Never returns
// an error; failures are reported as a structured reason.
func (ic *incidentClient) TestConnection(ctx context.Context) interfaces.ConnectionResult {
	query := url.Values{"page_size": {"1"}}

	var resp usersResponse
	if err := ic.request(ctx, apiV2, "users", query, &resp); err != nil {
		return interfaces.ConnectionResult{Success: false, Reason: err.Error()}
	}

	result := interfaces.ConnectionResult{Success: true}
	if len(resp.Users) > 0 {
		result.User = resp.Users[0].Name
		if result.User == "" {
			result.User = resp.Users[0].Email
		}
	}
	return result
}

// FindUser returns the first user whose email or display name contains the
// identifier, case-insensitively. Multiple matches are not disambiguated;
// the first in server list order wins and the ambiguity is logged.
func (ic *incidentClient) FindUser(ctx context.Context, identifier string) (*interfaces.User, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, common.NewValidationError("empty_identifier", "user identifier is empty")
	}

	var first *interfaces.User
	matches := 0
	after := ""

	for {
		query := url.Values{"page_size": {strconv.Itoa(incidentPageSize)}}
		if after != "" {
			query.Set("after", after)
		}

		var page usersResponse
		if err := ic.request(ctx, apiV2, "users", query, &page); err != nil {
			return nil, err
		}

		for _, u := range page.Users {
			if strings.Contains(strings.ToLower(u.Email), needle) ||
				strings.Contains(strings.ToLower(u.Name), needle) {
				matches++
				if first == nil {
					first = &interfaces.User{ID: u.ID, Name: u.Name, Email: u.Email}
				}
			}
		}

		if len(page.Users) < incidentPageSize || page.PaginationMeta.After == "" {
			break
		}
		after = page.PaginationMeta.After
	}

	if matches > 1 {
		ic.logger.Warn().
			Str("identifier", identifier).
			Int("matches", matches).
			Str("selected", first.Email).
			Msg("Multiple users match identifier, using first in list order")
	}

	return first, nil
}

// ListIncidents pages through the incidents collection until a short page
// or a missing cursor. The filter's two selection modes are mutually
// exclusive: a history window or active-only.
func (ic *incidentClient) ListIncidents(ctx context.Context, filter interfaces.IncidentFilter) ([]interfaces.Incident, error) {
	var all []interfaces.Incident
	after := ""

	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(incidentPageSize))

		if filter.CreatedAfter != nil {
			query.Set("created_at[gte]", filter.CreatedAfter.UTC().Format(time.RFC3339))
		} else if filter.ActiveOnly {
			query.Add("status_category[one_of]", interfaces.CategoryLive)
			query.Add("status_category[one_of]", interfaces.CategoryTriage)
		}

		if after != "" {
			query.Set("after", after)
		}

		var page incidentsResponse
		if err := ic.request(ctx, apiV2, "incidents", query, &page); err != nil {
			return nil, err
		}

		for i := range page.Incidents {
			all = append(all, page.Incidents[i].normalize())
		}

		if len(page.Incidents) < incidentPageSize || page.PaginationMeta.After == "" {
			break
		}
		after = page.PaginationMeta.After
	}

	return all, nil
}

// GetFullIncidentDetails aggregates the base record with its five
// sub-resource collections, fetched concurrently. Sub-resource failures
// degrade to empty collections and never fail the incident.
func (ic *incidentClient) GetFullIncidentDetails(ctx context.Context, inc interfaces.Incident) *interfaces.FullIncident {
	full := &interfaces.FullIncident{
		Incident: inc,
		URL:      canonicalURL(inc),
	}

	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); full.Updates = ic.fetchUpdates(ctx, inc.ID) }()
	go func() { defer wg.Done(); full.FollowUps = ic.fetchFollowUps(ctx, inc.ID) }()
	go func() { defer wg.Done(); full.Actions = ic.fetchActions(ctx, inc.ID) }()
	go func() { defer wg.Done(); full.Attachments = ic.fetchAttachments(ctx, inc.ID) }()
	go func() { defer wg.Done(); full.Timestamps = ic.fetchTimestamps(ctx, inc.ID) }()
	wg.Wait()

	// A closed incident without a close time adopts the timestamp of the
	// first timeline update that moved it into the closed category.
	if full.ClosedAt == nil && full.StatusCategory == interfaces.CategoryClosed {
		for _, u := range full.Updates {
			if u.NewStatusCategory == interfaces.CategoryClosed {
				t := u.CreatedAt
				full.ClosedAt = &t
				break
			}
		}
	}

	if full.ClosedAt != nil {
		minutes := int(full.ClosedAt.Sub(full.CreatedAt).Minutes())
		full.DurationMinutes = &minutes
	}

	return full
}

// CheckOnCall reports the schedules the user is currently covering. Returns
// nil when there are no schedules to check; a per-schedule failure is
// treated as not on call for that schedule only.
func (ic *incidentClient) CheckOnCall(ctx context.Context, user *interfaces.User) *interfaces.OnCallResult {
	var schedResp schedulesResponse
	if err := ic.request(ctx, apiV2, "schedules", nil, &schedResp); err != nil {
		ic.logger.Warn().Err(err).Msg("Failed to list schedules, skipping on-call check")
		return nil
	}
	if len(schedResp.Schedules) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var (
		mu     sync.Mutex
		onCall []string
		wg     sync.WaitGroup
	)

	for _, sched := range schedResp.Schedules {
		wg.Add(1)
		go func(s apiSchedule) {
			defer wg.Done()

			query := url.Values{
				"schedule_id":        {s.ID},
				"entry_window_start": {now},
				"entry_window_end":   {now},
			}

			var resp scheduleEntriesResponse
			if err := ic.request(ctx, apiV2, "schedule_entries", query, &resp); err != nil {
				ic.logger.Warn().Err(err).
					Str("schedule", s.Name).
					Msg("Schedule entry fetch failed, treating as not on call")
				return
			}

			for _, entry := range resp.ScheduleEntries.Final {
				if entry.User != nil && strings.EqualFold(entry.User.Email, user.Email) {
					mu.Lock()
					onCall = append(onCall, s.Name)
					mu.Unlock()
					return
				}
			}
		}(sched)
	}
	wg.Wait()

	sort.Strings(onCall)
	return &interfaces.OnCallResult{Schedules: onCall}
}

// SyncData runs one full pull: resolve the user, fetch on-call status and
// the candidate incident list concurrently, then fetch full details in
// bounded batches. Fails only when no user matches the identifier or the
// incident listing itself cannot be fetched.
func (ic *incidentClient) SyncData(ctx context.Context, userIdentifier string, historical *interfaces.HistoricalOptions, progress interfaces.ProgressFunc) (*interfaces.SyncResult, error) {
	user, err := ic.FindUser(ctx, userIdentifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, common.NewSyncError(common.CodeNoUserMatch,
			fmt.Sprintf("no user found matching %q", userIdentifier))
	}

	var (
		wg        sync.WaitGroup
		onCall    *interfaces.OnCallResult
		incidents []interfaces.Incident
		listErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		onCall = ic.CheckOnCall(ctx, user)
	}()
	go func() {
		defer wg.Done()
		filter := interfaces.IncidentFilter{ActiveOnly: true}
		if historical != nil {
			cutoff := time.Now().AddDate(0, 0, -historical.Days)
			filter = interfaces.IncidentFilter{CreatedAfter: &cutoff}
		}
		incidents, listErr = ic.ListIncidents(ctx, filter)
	}()
	wg.Wait()

	if listErr != nil {
		return nil, listErr
	}

	result := &interfaces.SyncResult{
		OnCall:    onCall,
		Incidents: make([]interfaces.IncidentResult, 0, len(incidents)),
	}

	for start := 0; start < len(incidents); start += detailBatchSize {
		end := min(start+detailBatchSize, len(incidents))
		batch := incidents[start:end]

		fulls := make([]*interfaces.FullIncident, len(batch))
		var bwg sync.WaitGroup
		for i := range batch {
			bwg.Add(1)
			go func(i int) {
				defer bwg.Done()
				fulls[i] = ic.GetFullIncidentDetails(ctx, batch[i])
			}(i)
		}
		bwg.Wait()

		for _, full := range fulls {
			if full == nil {
				continue
			}
			result.FullIncidents = append(result.FullIncidents, full)
			result.Incidents = append(result.Incidents, interfaces.IncidentResult{
				Reference: full.Reference,
				Name:      full.Name,
				Status:    full.Status,
				URL:       full.URL,
			})
		}

		if progress != nil {
			progress(end, len(incidents))
		}
		if end < len(incidents) {
			ic.sleep(batchPause)
		}
	}

	return result, nil
}

func (ic *incidentClient) fetchUpdates(ctx context.Context, incidentID string) []interfaces.IncidentUpdate {
	query := url.Values{"incident_id": {incidentID}}

	var resp updatesResponse
	if err := ic.request(ctx, apiV2, "incident_updates", query, &resp); err != nil {
		ic.logSubResourceError("incident_updates", incidentID, err)
		return []interfaces.IncidentUpdate{}
	}

	updates := make([]interfaces.IncidentUpdate, 0, len(resp.IncidentUpdates))
	for _, u := range resp.IncidentUpdates {
		update := interfaces.IncidentUpdate{
			ID:        u.ID,
			Message:   common.StripHTML(u.Message),
			CreatedAt: u.CreatedAt,
		}
		if u.NewIncidentStatus != nil {
			update.NewStatus = u.NewIncidentStatus.Name
			update.NewStatusCategory = u.NewIncidentStatus.Category
		}
		if u.NewSeverity != nil {
			update.NewSeverity = u.NewSeverity.Name
		}
		updates = append(updates, update)
	}

	sort.Slice(updates, func(i, j int) bool {
		return updates[i].CreatedAt.Before(updates[j].CreatedAt)
	})
	return updates
}

func (ic *incidentClient) fetchFollowUps(ctx context.Context, incidentID string) []interfaces.FollowUp {
	query := url.Values{"incident_id": {incidentID}}

	var resp followUpsResponse
	if err := ic.request(ctx, apiV2, "follow_ups", query, &resp); err != nil {
		ic.logSubResourceError("follow_ups", incidentID, err)
		return []interfaces.FollowUp{}
	}

	followUps := make([]interfaces.FollowUp, 0, len(resp.FollowUps))
	for _, f := range resp.FollowUps {
		fu := interfaces.FollowUp{
			Title:  f.Title,
			Status: f.Status,
		}
		if f.Assignee != nil {
			fu.Assignee = f.Assignee.Name
		}
		if f.ExternalIssueReference != nil {
			fu.IssueName = f.ExternalIssueReference.IssueName
			fu.IssueURL = f.ExternalIssueReference.IssuePermalink
		}
		followUps = append(followUps, fu)
	}
	return followUps
}

func (ic *incidentClient) fetchActions(ctx context.Context, incidentID string) []interfaces.IncidentAction {
	query := url.Values{"incident_id": {incidentID}}

	var resp actionsResponse
	if err := ic.request(ctx, apiV1, "actions", query, &resp); err != nil {
		ic.logSubResourceError("actions", incidentID, err)
		return []interfaces.IncidentAction{}
	}

	actions := make([]interfaces.IncidentAction, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		action := interfaces.IncidentAction{
			Description: a.Description,
			Status:      a.Status,
		}
		if a.Assignee != nil {
			action.Assignee = a.Assignee.Name
		}
		actions = append(actions, action)
	}
	return actions
}

func (ic *incidentClient) fetchAttachments(ctx context.Context, incidentID string) []interfaces.Attachment {
	query := url.Values{"incident_id": {incidentID}}

	var resp attachmentsResponse
	if err := ic.request(ctx, apiV1, "incident_attachments", query, &resp); err != nil {
		ic.logSubResourceError("incident_attachments", incidentID, err)
		return []interfaces.Attachment{}
	}

	attachments := make([]interfaces.Attachment, 0, len(resp.IncidentAttachments))
	for _, a := range resp.IncidentAttachments {
		attachments = append(attachments, interfaces.Attachment{
			Title:     a.Resource.Title,
			Permalink: a.Resource.Permalink,
		})
	}
	return attachments
}

func (ic *incidentClient) fetchTimestamps(ctx context.Context, incidentID string) []interfaces.IncidentTimestamp {
	query := url.Values{"incident_id": {incidentID}}

	var resp timestampsResponse
	if err := ic.request(ctx, apiV2, "incident_timestamps", query, &resp); err != nil {
		ic.logSubResourceError("incident_timestamps", incidentID, err)
		return []interfaces.IncidentTimestamp{}
	}

	timestamps := make([]interfaces.IncidentTimestamp, 0, len(resp.IncidentTimestamps))
	for _, t := range resp.IncidentTimestamps {
		ts := interfaces.IncidentTimestamp{Name: t.IncidentTimestamp.Name}
		if t.Value != nil {
			v := t.Value.Value
			ts.Value = &v
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

// logSubResourceError suppresses not-found (the org may not have that
// feature enabled) and logs everything else as a degraded data point.
func (ic *incidentClient) logSubResourceError(endpoint, incidentID string, err error) {
	if common.IsNotFound(err) {
		return
	}
	ic.logger.Warn().Err(err).
		Str("endpoint", endpoint).
		Str("incident_id", incidentID).
		Msg("Sub-resource fetch failed, continuing with empty collection")
}

func canonicalURL(inc interfaces.Incident) string {
	if inc.Permalink != "" {
		return inc.Permalink
	}
	return fmt.Sprintf("https://app.incident.io/incidents/%s", inc.ID)
}

// --- wire types ---

type paginationMeta struct {
	After    string `json:"after"`
	PageSize int    `json:"page_size"`
}

type apiUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type usersResponse struct {
	Users          []apiUser      `json:"users"`
	PaginationMeta paginationMeta `json:"pagination_meta"`
}

type apiStatus struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type apiSeverity struct {
	Name string `json:"name"`
}

type apiRoleAssignment struct {
	Role struct {
		Name     string `json:"name"`
		RoleType string `json:"role_type"`
	} `json:"role"`
	Assignee *apiUser `json:"assignee"`
}

type apiCustomFieldValue struct {
	ValueText    string `json:"value_text,omitempty"`
	ValueLink    string `json:"value_link,omitempty"`
	ValueNumeric string `json:"value_numeric,omitempty"`
	ValueOption  *struct {
		Value string `json:"value"`
	} `json:"value_option,omitempty"`
	ValueCatalogEntry *struct {
		Name string `json:"name"`
	} `json:"value_catalog_entry,omitempty"`
}

func (v apiCustomFieldValue) scalar() string {
	switch {
	case v.ValueText != "":
		return v.ValueText
	case v.ValueLink != "":
		return v.ValueLink
	case v.ValueNumeric != "":
		return v.ValueNumeric
	case v.ValueOption != nil:
		return v.ValueOption.Value
	case v.ValueCatalogEntry != nil:
		return v.ValueCatalogEntry.Name
	}
	return ""
}

type apiCustomFieldEntry struct {
	CustomField struct {
		Name string `json:"name"`
	} `json:"custom_field"`
	Values []apiCustomFieldValue `json:"values"`
}

type apiIncident struct {
	ID                 string                `json:"id"`
	Reference          string                `json:"reference"`
	Name               string                `json:"name"`
	Summary            string                `json:"summary"`
	Permalink          string                `json:"permalink"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          *time.Time            `json:"updated_at"`
	ClosedAt           *time.Time            `json:"closed_at"`
	IncidentStatus     apiStatus             `json:"incident_status"`
	Severity           *apiSeverity          `json:"severity"`
	IncidentType       *struct {
		Name string `json:"name"`
	} `json:"incident_type"`
	RoleAssignments    []apiRoleAssignment   `json:"incident_role_assignments"`
	CustomFieldEntries []apiCustomFieldEntry `json:"custom_field_entries"`
}

func (a *apiIncident) normalize() interfaces.Incident {
	inc := interfaces.Incident{
		ID:             a.ID,
		Reference:      a.Reference,
		Name:           a.Name,
		Summary:        common.StripHTML(a.Summary),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		ClosedAt:       a.ClosedAt,
		Status:         a.IncidentStatus.Name,
		StatusCategory: a.IncidentStatus.Category,
		Permalink:      a.Permalink,
	}
	if a.Severity != nil {
		inc.Severity = a.Severity.Name
	}
	if a.IncidentType != nil {
		inc.Type = a.IncidentType.Name
	}

	for _, ra := range a.RoleAssignments {
		if ra.Assignee == nil {
			continue
		}
		inc.Roles = append(inc.Roles, interfaces.RoleAssignment{
			Role:          ra.Role.Name,
			RoleType:      ra.Role.RoleType,
			Assignee:      ra.Assignee.Name,
			AssigneeEmail: ra.Assignee.Email,
		})
	}

	for _, cf := range a.CustomFieldEntries {
		values := make([]string, 0, len(cf.Values))
		for _, v := range cf.Values {
			if s := v.scalar(); s != "" {
				values = append(values, s)
			}
		}
		if len(values) == 0 {
			continue
		}
		inc.CustomFields = append(inc.CustomFields, interfaces.CustomFieldEntry{
			Name:  cf.CustomField.Name,
			Value: strings.Join(values, ", "),
		})
	}

	return inc
}

type incidentsResponse struct {
	Incidents      []apiIncident  `json:"incidents"`
	PaginationMeta paginationMeta `json:"pagination_meta"`
}

type apiIncidentUpdate struct {
	ID                string       `json:"id"`
	Message           string       `json:"message"`
	CreatedAt         time.Time    `json:"created_at"`
	NewIncidentStatus *apiStatus   `json:"new_incident_status"`
	NewSeverity       *apiSeverity `json:"new_severity"`
}

type updatesResponse struct {
	IncidentUpdates []apiIncidentUpdate `json:"incident_updates"`
}

type apiFollowUp struct {
	Title                  string   `json:"title"`
	Status                 string   `json:"status"`
	Assignee               *apiUser `json:"assignee"`
	ExternalIssueReference *struct {
		IssueName      string `json:"issue_name"`
		IssuePermalink string `json:"issue_permalink"`
	} `json:"external_issue_reference"`
}

type followUpsResponse struct {
	FollowUps []apiFollowUp `json:"follow_ups"`
}

type apiAction struct {
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Assignee    *apiUser `json:"assignee"`
}

type actionsResponse struct {
	Actions []apiAction `json:"actions"`
}

type attachmentsResponse struct {
	IncidentAttachments []struct {
		Resource struct {
			Title     string `json:"title"`
			Permalink string `json:"permalink"`
		} `json:"resource"`
	} `json:"incident_attachments"`
}

type timestampsResponse struct {
	IncidentTimestamps []struct {
		IncidentTimestamp struct {
			Name string `json:"name"`
		} `json:"incident_timestamp"`
		Value *struct {
			Value time.Time `json:"value"`
		} `json:"value"`
	} `json:"incident_timestamps"`
}

type apiSchedule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type schedulesResponse struct {
	Schedules []apiSchedule `json:"schedules"`
}

type scheduleEntriesResponse struct {
	ScheduleEntries struct {
		Final []struct {
			User    *apiUser   `json:"user"`
			StartAt *time.Time `json:"start_at"`
			EndAt   *time.Time `json:"end_at"`
		} `json:"final"`
	} `json:"schedule_entries"`
}
