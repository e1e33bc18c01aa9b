package bot

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/service"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type OccurrenceResponse struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Location    string `json:"location,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	DurationMin int    `json:"duration_minutes"`
	Delivered   bool   `json:"delivered"`
}

type ExternalUsersRequest struct {
	ExternalUserIDs []string `json:"external_user_ids"`
}

func (b *Bot) apiMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("PATCH /api/calendar/update/externalUser/{id}", b.apiRefreshExternalUser)
	mux.HandleFunc("PATCH /api/calendar/update/forExternalUsers", b.apiRefreshExternalUsers)
	mux.HandleFunc("GET /api/calendar/todayEvents/{userID}", b.apiTodayEvents)

	return mux
}

func (b *Bot) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (b *Bot) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// apiRefreshExternalUser triggers a refresh for one externally-sourced
// calendar.
func (b *Bot) apiRefreshExternalUser(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("id")
	if externalID == "" {
		b.jsonError(w, "external user id is required", http.StatusBadRequest)
		return
	}

	cmd := service.RefreshCommand{ExternalIDs: []string{externalID}}
	if _, err := b.refresh.RefreshAll(r.Context(), cmd); err != nil {
		log.Printf("Error refreshing calendar for external user %s: %v", externalID, err)
		b.jsonError(w, "refresh failed", http.StatusInternalServerError)
		return
	}

	log.Printf("Update request received for external user %s", externalID)
	b.jsonResponse(w, nil)
}

// apiRefreshExternalUsers triggers a refresh for a batch of
// externally-sourced calendars.
func (b *Bot) apiRefreshExternalUsers(w http.ResponseWriter, r *http.Request) {
	var req ExternalUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.ExternalUserIDs) == 0 {
		b.jsonError(w, "external_user_ids is required", http.StatusBadRequest)
		return
	}

	cmd := service.RefreshCommand{ExternalIDs: req.ExternalUserIDs}
	if _, err := b.refresh.RefreshAll(r.Context(), cmd); err != nil {
		log.Printf("Error refreshing calendars for %d external users: %v", len(req.ExternalUserIDs), err)
		b.jsonError(w, "refresh failed", http.StatusInternalServerError)
		return
	}

	log.Printf("Update request received for %d external users", len(req.ExternalUserIDs))
	b.jsonResponse(w, nil)
}

// apiTodayEvents returns the user's cached occurrence set without any
// delivered filtering.
func (b *Bot) apiTodayEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		b.jsonError(w, "invalid user id", http.StatusBadRequest)
		return
	}

	occurrences := b.calendars.TodayEvents(userID)
	b.jsonResponse(w, occurrencesToResponse(occurrences))
}

func occurrencesToResponse(occurrences []domain.Occurrence) []OccurrenceResponse {
	out := make([]OccurrenceResponse, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, OccurrenceResponse{
			Summary:     occ.Summary,
			Description: occ.Description,
			Status:      occ.Status,
			Location:    occ.Location,
			StartTime:   occ.StartTime.Format(time.RFC3339),
			EndTime:     occ.EndTime.Format(time.RFC3339),
			DurationMin: int(occ.Duration.Minutes()),
			Delivered:   occ.Delivered,
		})
	}
	return out
}
