// Package server exposes the sync pipeline over a small authenticated HTTP
// API. Per-user tracker credentials come from the settings store and fall
// back to process configuration.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/selimerdinc/VeloxCase/config"
	"github.com/selimerdinc/VeloxCase/internal/ai"
	"github.com/selimerdinc/VeloxCase/internal/api"
	"github.com/selimerdinc/VeloxCase/internal/db"
	"github.com/selimerdinc/VeloxCase/internal/media"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/selimerdinc/VeloxCase/internal/sync"
)

// tokenTTL is the session token lifetime
const tokenTTL = 7 * 24 * time.Hour

// Server is the HTTP API server
type Server struct {
	cfg    *config.Config
	db     *db.DB
	router *mux.Router
}

// New creates the server and its routes
func New(cfg *config.Config, database *db.DB) *Server {
	s := &Server{cfg: cfg, db: database}

	r := mux.NewRouter()
	r.Use(logging, recovery)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	apiRouter.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	authed := apiRouter.NewRoute().Subrouter()
	authed.Use(s.auth)
	authed.HandleFunc("/change-password", s.handleChangePassword).Methods(http.MethodPost)
	authed.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	authed.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)
	authed.HandleFunc("/folders/{projectID:[0-9]+}", s.handleGetFolders).Methods(http.MethodGet)
	authed.HandleFunc("/folders/{projectID:[0-9]+}", s.handleCreateFolder).Methods(http.MethodPost)
	authed.HandleFunc("/preview", s.handlePreview).Methods(http.MethodPost)
	authed.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	authed.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	authed.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // sync requests fan out network calls
	}
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey).(*models.User)
	return user
}

// issueToken signs a session token for a username
func (s *Server) issueToken(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// settingOr reads a per-user setting, falling back to the given process
// config value
func (s *Server) settingOr(userID int64, key, fallback string) string {
	if v := s.db.GetSetting(userID, key); v != "" {
		return v
	}
	return fallback
}

func (s *Server) boolSetting(userID int64, key string, fallback bool) bool {
	v := s.db.GetSetting(userID, key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}

// userClients builds the Jira/Testmo clients and downloader from a user's
// effective settings
func (s *Server) userClients(userID int64) (*api.JiraClient, *api.TestmoClient, *media.Downloader) {
	jiraURL := config.NormalizeJiraURL(s.settingOr(userID, "JIRA_BASE_URL", s.cfg.JiraBaseURL))
	jiraEmail := s.settingOr(userID, "JIRA_EMAIL", s.cfg.JiraEmail)
	jiraToken := s.settingOr(userID, "JIRA_API_TOKEN", s.cfg.JiraAPIToken)
	testmoURL := config.NormalizeTestmoURL(s.settingOr(userID, "TESTMO_BASE_URL", s.cfg.TestmoBaseURL))
	testmoKey := s.settingOr(userID, "TESTMO_API_KEY", s.cfg.TestmoAPIKey)

	jira := api.NewJiraClient(jiraURL, jiraEmail, jiraToken)
	testmo := api.NewTestmoClient(testmoURL, testmoKey)
	downloader := media.NewDownloader(jiraURL, jiraEmail, jiraToken)
	return jira, testmo, downloader
}

// userGenerator builds the AI generator from a user's settings, or nil when
// enrichment is disabled
func (s *Server) userGenerator(userID int64) (ai.Generator, bool) {
	if !s.boolSetting(userID, "AI_ENABLED", s.cfg.AIEnabled) {
		return nil, false
	}
	opts := ai.Options{
		VisionEnabled:     s.boolSetting(userID, "AI_VISION_ENABLED", s.cfg.AIVisionEnabled),
		AutomationEnabled: s.boolSetting(userID, "AI_AUTOMATION_ENABLED", s.cfg.AIAutomationEnabled),
		NegativeEnabled:   s.boolSetting(userID, "AI_NEGATIVE_ENABLED", s.cfg.AINegativeEnabled),
		MockDataEnabled:   s.boolSetting(userID, "AI_MOCKDATA_ENABLED", s.cfg.AIMockDataEnabled),
		SystemPrompt:      s.settingOr(userID, "AI_SYSTEM_PROMPT", s.cfg.AISystemPrompt),
	}
	apiKey := s.settingOr(userID, "AI_API_KEY", s.cfg.AIAPIKey)
	return ai.NewGeminiGenerator(apiKey, opts), opts.VisionEnabled
}

// userSyncer assembles the full pipeline for one user
func (s *Server) userSyncer(userID int64) *sync.Syncer {
	jira, testmo, downloader := s.userClients(userID)
	generator, vision := s.userGenerator(userID)
	return sync.New(jira, testmo, downloader, generator, vision)
}
