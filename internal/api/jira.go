package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/selimerdinc/VeloxCase/internal/models"
)

// JiraClient represents a client for the Jira REST API (basic auth with
// email + API token). Read operations degrade to empty results on failure;
// the sync pipeline treats a missing issue as a soft condition.
type JiraClient struct {
	baseURL string
	email   string
	token   string
	client  *http.Client
}

// NewJiraClient creates a new Jira API client
func NewJiraClient(baseURL, email, token string) *JiraClient {
	return &JiraClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		token:   token,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// BaseURL returns the normalized Jira base URL
func (j *JiraClient) BaseURL() string {
	return j.baseURL
}

func (j *JiraClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, j.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(j.email, j.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// adfText coerces a Jira v3 field that may be plain text or an Atlassian
// Document Format object into a string.
type adfText string

func (t *adfText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = adfText(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	*t = adfText(data)
	return nil
}

// GetIssue fetches an issue with its rendered description. Failures return
// an empty issue.
func (j *JiraClient) GetIssue(ctx context.Context, key string) models.Issue {
	req, err := j.newRequest(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s?expand=renderedFields", key), nil)
	if err != nil {
		return models.Issue{Key: key}
	}

	resp, err := j.client.Do(req)
	if err != nil {
		log.Printf("jira: failed to fetch issue %s: %v", key, err)
		return models.Issue{Key: key}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("jira: issue %s fetch returned status %d", key, resp.StatusCode)
		return models.Issue{Key: key}
	}

	var payload struct {
		ID     string `json:"id"`
		Fields struct {
			Summary     string  `json:"summary"`
			Description adfText `json:"description"`
		} `json:"fields"`
		RenderedFields struct {
			Description string `json:"description"`
		} `json:"renderedFields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("jira: failed to decode issue %s: %v", key, err)
		return models.Issue{Key: key}
	}

	return models.Issue{
		ID:              payload.ID,
		Key:             key,
		Summary:         payload.Fields.Summary,
		Description:     string(payload.Fields.Description),
		DescriptionHTML: payload.RenderedFields.Description,
	}
}

// GetComments fetches the comments of an issue with rendered bodies.
// Failures return an empty list.
func (j *JiraClient) GetComments(ctx context.Context, key string) []models.Comment {
	req, err := j.newRequest(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s/comment?expand=renderedBody", key), nil)
	if err != nil {
		return nil
	}

	resp, err := j.client.Do(req)
	if err != nil {
		log.Printf("jira: failed to fetch comments for %s: %v", key, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var payload struct {
		Comments []struct {
			Body         adfText `json:"body"`
			RenderedBody string  `json:"renderedBody"`
		} `json:"comments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("jira: failed to decode comments for %s: %v", key, err)
		return nil
	}

	comments := make([]models.Comment, 0, len(payload.Comments))
	for _, c := range payload.Comments {
		comments = append(comments, models.Comment{
			Body:         string(c.Body),
			RenderedBody: c.RenderedBody,
		})
	}
	return comments
}

// GetAttachments fetches the issue's attachments filtered to image MIME
// types. Failures return an empty list.
func (j *JiraClient) GetAttachments(ctx context.Context, key string) []models.Attachment {
	req, err := j.newRequest(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s", key), nil)
	if err != nil {
		return nil
	}

	resp, err := j.client.Do(req)
	if err != nil {
		log.Printf("jira: failed to fetch attachments for %s: %v", key, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("jira: attachment fetch for %s returned status %d: %s", key, resp.StatusCode, body)
		return nil
	}

	var payload struct {
		Fields struct {
			Attachment []struct {
				Content  string `json:"content"`
				MimeType string `json:"mimeType"`
				Filename string `json:"filename"`
			} `json:"attachment"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("jira: failed to decode attachments for %s: %v", key, err)
		return nil
	}

	var attachments []models.Attachment
	for _, a := range payload.Fields.Attachment {
		if !strings.HasPrefix(a.MimeType, "image/") {
			continue
		}
		attachments = append(attachments, models.Attachment{
			URL:      a.Content,
			MIME:     a.MimeType,
			Filename: a.Filename,
		})
	}
	return attachments
}

// AddComment posts a plain-text comment to the issue as an Atlassian
// Document Format paragraph
func (j *JiraClient) AddComment(ctx context.Context, key, text string) error {
	payload := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []map[string]any{
				{
					"type": "paragraph",
					"content": []map[string]any{
						{"type": "text", "text": text},
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode comment: %w", err)
	}

	req, err := j.newRequest(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/comment", key), bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to post comment: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// ListRemoteLinks returns the issue's remote links
func (j *JiraClient) ListRemoteLinks(ctx context.Context, key string) ([]models.RemoteLink, error) {
	req, err := j.newRequest(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s/remotelink", key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote links: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list remote links: status %d", resp.StatusCode)
	}

	var payload []struct {
		ID     int64 `json:"id"`
		Object struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode remote links: %w", err)
	}

	links := make([]models.RemoteLink, 0, len(payload))
	for _, l := range payload {
		links = append(links, models.RemoteLink{ID: l.ID, Title: l.Object.Title, URL: l.Object.URL})
	}
	return links, nil
}

// DeleteRemoteLink removes one remote link from the issue
func (j *JiraClient) DeleteRemoteLink(ctx context.Context, key string, linkID int64) error {
	req, err := j.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/rest/api/3/issue/%s/remotelink/%d", key, linkID), nil)
	if err != nil {
		return err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete remote link %d: %w", linkID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to delete remote link %d: status %d", linkID, resp.StatusCode)
	}
	return nil
}

// AddRemoteLink adds a web link with an icon to the issue
func (j *JiraClient) AddRemoteLink(ctx context.Context, key, title, linkURL, iconURL string) error {
	payload := map[string]any{
		"object": map[string]any{
			"url":   linkURL,
			"title": title,
			"icon": map[string]any{
				"url16x16": iconURL,
				"title":    "Testmo",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode remote link: %w", err)
	}

	req, err := j.newRequest(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/remotelink", key), bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to add remote link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add remote link: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
