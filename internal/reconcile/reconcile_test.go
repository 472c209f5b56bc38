package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/selimerdinc/VeloxCase/internal/api"
	"github.com/selimerdinc/VeloxCase/internal/media"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(jiraURL, testmoURL string) *Reconciler {
	jira := api.NewJiraClient(jiraURL, "qa@example.com", "token")
	testmo := api.NewTestmoClient(testmoURL+"/api/v1", "token")
	downloader := media.NewDownloader(jiraURL, "qa@example.com", "token")
	return New(jira, testmo, downloader)
}

func TestFindCaseByNameEarlyExit(t *testing.T) {
	var pagesServed int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/projects/5/cases", r.URL.Path)
		require.Equal(t, "9", r.URL.Query().Get("folder_id"))
		pagesServed++

		// More pages exist, but a page-1 match must stop the scan
		json.NewEncoder(w).Encode(map[string]any{
			"cases": []api.CaseRecord{
				{ID: 1, Name: "Other Case"},
				{ID: 2, Name: "Login Flow"},
			},
			"next_page": 2,
		})
	}))
	defer srv.Close()

	r := newReconciler("http://jira.invalid", srv.URL)

	rec := r.FindCaseByName(context.Background(), 5, 9, " login flow ")
	require.NotNil(t, rec, "match is case-insensitive and whitespace-trimmed")
	assert.Equal(t, int64(2), rec.ID)
	assert.Equal(t, 1, pagesServed)
}

func TestFindCaseByNameFollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			// Alternate response shape: result list + meta pagination
			json.NewEncoder(w).Encode(map[string]any{
				"result": []api.CaseRecord{{ID: 1, Name: "Other"}},
				"meta":   map[string]any{"pagination": map[string]any{"next_page": 2}},
			})
		case "2":
			json.NewEncoder(w).Encode(map[string]any{
				"cases": []api.CaseRecord{{ID: 7, Name: "Payment Flow"}},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	r := newReconciler("http://jira.invalid", srv.URL)

	rec := r.FindCaseByName(context.Background(), 5, 9, "Payment Flow")
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), rec.ID)

	assert.Nil(t, r.FindCaseByName(context.Background(), 5, 9, "No Such Case"))
}

func TestFindCaseByNameListingErrorDegradesToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newReconciler("http://jira.invalid", srv.URL)
	assert.Nil(t, r.FindCaseByName(context.Background(), 5, 9, "Login Flow"))
}

func TestCleanDeadLinks(t *testing.T) {
	var testmoURL string
	var deleted []string

	jiraSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/api/3/issue/PROJ-1/remotelink":
			fmt.Fprintf(w, `[
				{"id": 1, "object": {"title": "Testmo Case: Dead", "url": "%s/repositories/5?case_id=42"}},
				{"id": 2, "object": {"title": "Testmo Case: Alive", "url": "%s/repositories/5?case_id=43"}},
				{"id": 3, "object": {"title": "Docs", "url": "https://wiki.example.com/page"}}
			]`, testmoURL, testmoURL)
		case r.Method == http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected jira call: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer jiraSrv.Close()

	testmoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/cases/42":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/cases/43":
			w.Write([]byte(`{"id": 43}`))
		default:
			t.Errorf("unexpected testmo call: %s", r.URL.Path)
		}
	}))
	defer testmoSrv.Close()
	testmoURL = testmoSrv.URL

	r := newReconciler(jiraSrv.URL, testmoSrv.URL)
	r.CleanDeadLinks(context.Background(), "PROJ-1")

	assert.Equal(t, []string{"/rest/api/3/issue/PROJ-1/remotelink/1"}, deleted,
		"only the link whose case is gone is removed")
}

func TestReplaceRemoteLink(t *testing.T) {
	var testmoURL string
	var deleted []string
	var added map[string]any

	jiraSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/api/3/issue/PROJ-2/remotelink":
			fmt.Fprintf(w, `[
				{"id": 7, "object": {"title": "Testmo Case: Old Name", "url": "%s/repositories/5?case_id=11"}},
				{"id": 8, "object": {"title": "Spec", "url": "https://wiki.example.com/spec"}}
			]`, testmoURL)
		case r.Method == http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/rest/api/3/issue/PROJ-2/remotelink":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&added))
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected jira call: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer jiraSrv.Close()

	testmoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer testmoSrv.Close()
	testmoURL = testmoSrv.URL

	r := newReconciler(jiraSrv.URL, testmoSrv.URL)
	r.ReplaceRemoteLink(context.Background(), "PROJ-2", 5, 99, "New Case Name")

	assert.Equal(t, []string{"/rest/api/3/issue/PROJ-2/remotelink/7"}, deleted,
		"foreign links survive the replacement")

	require.NotNil(t, added)
	object := added["object"].(map[string]any)
	assert.Equal(t, "Testmo Case: New Case Name", object["title"])
	assert.Equal(t, fmt.Sprintf("%s/repositories/5?case_id=99", testmoURL), object["url"])
}

func TestBuildPayloadEmbedsImages(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer imgSrv.Close()

	r := newReconciler(imgSrv.URL, "http://testmo.invalid")

	issue := models.Issue{
		Key:             "PROJ-3",
		Summary:         "Checkout",
		DescriptionHTML: `<p>step</p><img src="/rest/api/3/attachment/1">`,
	}
	cases := []models.TestCase{
		{Name: "TC01 - Checkout", Scenario: "add to cart", ExpectedResult: "order placed"},
	}

	payload := r.BuildPayload(context.Background(), issue, cases)

	assert.Equal(t, "Checkout", payload.Name)
	assert.Equal(t, "PROJ-3", payload.Refs)
	// Unfetchable images keep their original reference
	assert.Contains(t, payload.CustomDescription, "/rest/api/3/attachment/1")

	require.Len(t, payload.CustomSteps, 1)
	assert.Equal(t, "<p><strong>TC01 - Checkout</strong></p><p>add to cart</p>", payload.CustomSteps[0].Text1)
	assert.Equal(t, "<p>order placed</p>", payload.CustomSteps[0].Text3)
}
