package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/selimerdinc/VeloxCase/internal/ai"
	"github.com/selimerdinc/VeloxCase/internal/db"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/selimerdinc/VeloxCase/internal/sync"
)

// maskedValue is what sensitive settings read back as
const maskedValue = "********"

// maxBatchTasks caps the number of task keys per sync request
const maxBatchTasks = 3

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Geçersiz istek gövdesi")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Kullanıcı adı ve şifre zorunludur")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Şifre en az 8 karakter olmalıdır")
		return
	}

	existing, err := s.db.GetUserByUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sunucu hatası")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "Bu kullanıcı adı zaten kullanımda")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sunucu hatası")
		return
	}
	if _, err := s.db.CreateUser(req.Username, string(hash)); err != nil {
		writeError(w, http.StatusInternalServerError, "Sunucu hatası")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"msg": "Kullanıcı başarıyla oluşturuldu"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Kullanıcı adı ve şifre gereklidir")
		return
	}

	user, err := s.db.GetUserByUsername(req.Username)
	if err == nil && user != nil {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) == nil {
			token, err := s.issueToken(user.Username)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Giriş işlemi sırasında bir hata oluştu")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
			return
		}
	}

	// Do not reveal whether the username exists
	writeError(w, http.StatusUnauthorized, "Geçersiz kullanıcı adı veya şifre")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "Şifre en az 8 karakter olmalıdır")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		writeError(w, http.StatusUnauthorized, "Mevcut şifre hatalı")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sunucu hatası")
		return
	}
	if err := s.db.UpdatePassword(user.ID, string(hash)); err != nil {
		writeError(w, http.StatusInternalServerError, "Sunucu hatası")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"msg": "Şifre güncellendi"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	settings, err := s.db.GetSettings(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ayarlar okunamadı")
		return
	}

	// Sensitive values never leave the server
	for key, value := range settings {
		if db.IsSensitiveKey(key) && value != "" {
			settings[key] = maskedValue
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req map[string]string
	if !decodeBody(w, r, &req) {
		return
	}

	for key, value := range req {
		// A masked value echoed back means "unchanged"
		if db.IsSensitiveKey(key) && value == maskedValue {
			continue
		}
		if err := s.db.SaveSetting(user.ID, key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "Ayar kaydedilemedi: "+key)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "Ayarlar kaydedildi"})
}

func (s *Server) handleGetFolders(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	projectID, _ := strconv.ParseInt(mux.Vars(r)["projectID"], 10, 64)

	_, testmo, _ := s.userClients(user.ID)
	folders, err := testmo.GetFolders(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Klasörler alınamadı")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	projectID, _ := strconv.ParseInt(mux.Vars(r)["projectID"], 10, 64)

	var req struct {
		Name     string `json:"name"`
		ParentID int64  `json:"parent_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		req.Name = "Yeni"
	}

	_, testmo, _ := s.userClients(user.ID)
	folder, err := testmo.CreateFolder(r.Context(), projectID, req.Name, req.ParentID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Klasör oluşturulamadı")
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req struct {
		TaskKey string `json:"task_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	key := sync.NormalizeTaskKey(strings.SplitN(req.TaskKey, ",", 2)[0])
	if key == "" {
		writeError(w, http.StatusBadRequest, "Boş ID")
		return
	}

	jira, _, _ := s.userClients(user.ID)
	issue := jira.GetIssue(r.Context(), key)
	if !issue.Found() {
		writeJSON(w, http.StatusNotFound, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":   true,
		"key":     key,
		"summary": issue.Summary,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req struct {
		TaskKey string `json:"task_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	key := sync.NormalizeTaskKey(req.TaskKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, "Task key gerekli")
		return
	}

	jira, _, _ := s.userClients(user.ID)
	issue := jira.GetIssue(r.Context(), key)
	if !issue.Found() {
		writeError(w, http.StatusNotFound, "Jira Task bulunamadı")
		return
	}

	generator, _ := s.userGenerator(user.ID)
	if generator == nil {
		// Regex-only preview: the description wrapped as the primary case
		writeJSON(w, http.StatusOK, map[string]any{
			"task_key":   key,
			"summary":    issue.Summary,
			"ai_enabled": false,
			"test_cases": []models.TestCase{{
				Name:           "TC01: " + issue.Summary,
				Scenario:       issue.Description,
				ExpectedResult: "Beklenen sonuç manuel olarak girilmelidir",
				Status:         models.StatusNoRun,
			}},
		})
		return
	}

	var comments []string
	for _, c := range jira.GetComments(r.Context(), key) {
		comments = append(comments, c.Body)
	}

	result, err := generator.GenerateCases(r.Context(), issue.Summary, issue.Description, comments, nil)
	if err != nil || result == nil || len(result.TestCases) == 0 {
		scenario := issue.Description
		if scenario == "" {
			scenario = "Jira açıklamasından senaryo oluşturulamadı. AI kota sınırına ulaşmış olabilir."
		}
		result = &ai.Result{TestCases: []models.TestCase{{
			Name:           "TC01: " + issue.Summary,
			Scenario:       scenario,
			ExpectedResult: "AI yanıt veremedi. Lütfen birkaç dakika bekleyip tekrar deneyin.",
			Status:         models.StatusNoRun,
		}}}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_key":              key,
		"summary":               issue.Summary,
		"ai_enabled":            true,
		"test_cases":            result.TestCases,
		"automation_candidates": result.AutomationCandidates,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req struct {
		JiraInput   string `json:"jira_input"`
		ProjectID   int64  `json:"project_id"`
		FolderID    int64  `json:"folder_id"`
		ForceUpdate bool   `json:"force_update"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var keys []string
	for _, k := range strings.Split(req.JiraInput, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "Task giriniz")
		return
	}
	if len(keys) > maxBatchTasks {
		writeError(w, http.StatusBadRequest, "Maksimum 3 Task")
		return
	}
	if req.ProjectID == 0 || req.FolderID == 0 {
		writeError(w, http.StatusBadRequest, "Proje ID ve Klasör ID gereklidir")
		return
	}

	syncer := s.userSyncer(user.ID)
	results := syncer.ProcessBatch(r.Context(), keys, req.ProjectID, req.FolderID, req.ForceUpdate)

	for _, res := range results {
		if res.Status != models.ResultSuccess {
			continue
		}
		status := "SUCCESS"
		if res.Action == models.ActionUpdated {
			status = "UPDATED"
		}
		rec := &models.SyncRecord{
			Date:     time.Now(),
			Task:     res.Task,
			RepoID:   req.ProjectID,
			FolderID: req.FolderID,
			Cases:    res.Cases,
			Images:   res.Images,
			Status:   status,
			CaseName: res.CaseName,
			UserID:   user.ID,
		}
		// The sync itself succeeded; a history miss must not hide the results
		if err := s.db.RecordSync(rec); err != nil {
			log.Printf("server: failed to record sync of %s: %v", res.Task, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.db.ListHistory(user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Geçmiş okunamadı")
		return
	}
	if records == nil {
		records = []models.SyncRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	stats, err := s.db.GetStats(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "İstatistikler okunamadı")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
