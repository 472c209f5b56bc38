package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdfTextCoercion(t *testing.T) {
	var s struct {
		Description adfText `json:"description"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"description": "plain text"}`), &s))
	assert.Equal(t, "plain text", string(s.Description))

	require.NoError(t, json.Unmarshal([]byte(`{"description": null}`), &s))
	assert.Equal(t, "", string(s.Description))

	// v3 issues return an ADF document object; keep the raw JSON
	require.NoError(t, json.Unmarshal([]byte(`{"description": {"type": "doc", "version": 1}}`), &s))
	assert.Contains(t, string(s.Description), `"type"`)
}

func TestGetIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/issue/PROJ-1", r.URL.Path)
		require.Equal(t, "renderedFields", r.URL.Query().Get("expand"))

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "qa@example.com", user)

		w.Write([]byte(`{
			"id": "10001",
			"fields": {"summary": "Login Flow", "description": "raw text"},
			"renderedFields": {"description": "<p>rendered</p>"}
		}`))
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "qa@example.com", "token")
	issue := c.GetIssue(context.Background(), "PROJ-1")

	assert.True(t, issue.Found())
	assert.Equal(t, "PROJ-1", issue.Key)
	assert.Equal(t, "Login Flow", issue.Summary)
	assert.Equal(t, "raw text", issue.Description)
	assert.Equal(t, "<p>rendered</p>", issue.DescriptionHTML)
}

func TestGetIssueSoftFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "qa@example.com", "token")
	issue := c.GetIssue(context.Background(), "PROJ-404")

	assert.False(t, issue.Found())
	assert.Equal(t, "PROJ-404", issue.Key)
}

func TestGetAttachmentsFiltersImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"fields": {"attachment": [
				{"content": "https://jira/att/1", "mimeType": "image/png", "filename": "shot.png"},
				{"content": "https://jira/att/2", "mimeType": "application/pdf", "filename": "doc.pdf"},
				{"content": "https://jira/att/3", "mimeType": "image/jpeg", "filename": "photo.jpg"}
			]}
		}`))
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "qa@example.com", "token")
	atts := c.GetAttachments(context.Background(), "PROJ-1")

	require.Len(t, atts, 2)
	assert.Equal(t, "shot.png", atts[0].Filename)
	assert.Equal(t, "photo.jpg", atts[1].Filename)
}

func TestGetCommentsPrefersRenderedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/issue/PROJ-1/comment", r.URL.Path)
		w.Write([]byte(`{"comments": [
			{"body": "raw", "renderedBody": "<p>rendered</p>"},
			{"body": "raw only"}
		]}`))
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "qa@example.com", "token")
	comments := c.GetComments(context.Background(), "PROJ-1")

	require.Len(t, comments, 2)
	assert.Equal(t, "<p>rendered</p>", comments[0].Text())
	assert.Equal(t, "raw only", comments[1].Text())
}

func TestAddCommentBuildsADFDocument(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewJiraClient(srv.URL, "qa@example.com", "token")
	require.NoError(t, c.AddComment(context.Background(), "PROJ-1", "done"))

	body := gotBody["body"].(map[string]any)
	assert.Equal(t, "doc", body["type"])
	paragraph := body["content"].([]any)[0].(map[string]any)
	text := paragraph["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "done", text["text"])
}
