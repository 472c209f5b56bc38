// Package reconcile maps extracted test cases onto existing-or-new Testmo
// records and keeps the cross-system links on the Jira issue consistent.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/selimerdinc/VeloxCase/internal/api"
	"github.com/selimerdinc/VeloxCase/internal/media"
	"github.com/selimerdinc/VeloxCase/internal/models"
)

// linkTitlePrefix signs the remote links this tool owns on a Jira issue
const linkTitlePrefix = "Testmo Case: "

var caseIDRe = regexp.MustCompile(`case_id=(\d+)`)

// Reconciler decides create vs. update vs. skip for a candidate case set
// and maintains the issue's Testmo links.
type Reconciler struct {
	jira       *api.JiraClient
	testmo     *api.TestmoClient
	downloader *media.Downloader
}

// New creates a reconciler
func New(jira *api.JiraClient, testmo *api.TestmoClient, downloader *media.Downloader) *Reconciler {
	return &Reconciler{jira: jira, testmo: testmo, downloader: downloader}
}

// FindCaseByName scans the target folder page by page for a case whose name
// matches case-insensitively with surrounding whitespace trimmed, exiting on
// the first match. Listing errors degrade to "not found": the folder scan is
// a duplicate guard, not a correctness gate.
func (r *Reconciler) FindCaseByName(ctx context.Context, projectID, folderID int64, name string) *api.CaseRecord {
	target := strings.ToLower(strings.TrimSpace(name))

	page := 1
	for {
		cases, nextPage, err := r.testmo.ListCases(ctx, projectID, folderID, page)
		if err != nil {
			log.Printf("reconcile: case lookup failed on page %d: %v", page, err)
			return nil
		}

		for _, c := range cases {
			if strings.ToLower(strings.TrimSpace(c.Name)) == target {
				log.Printf("reconcile: duplicate found: %s (id %d)", c.Name, c.ID)
				return &c
			}
		}

		if nextPage == 0 || nextPage == page {
			return nil
		}
		page = nextPage
	}
}

// BuildPayload maps the case list into Testmo's step schema and embeds the
// description's images as inline data URIs. Images that fail to download or
// decode are left as their original references.
func (r *Reconciler) BuildPayload(ctx context.Context, issue models.Issue, cases []models.TestCase) api.CasePayload {
	desc := issue.DescriptionHTML
	for _, ref := range media.ImageRefs(desc) {
		data := r.downloader.Fetch(ctx, ref, media.NeedsAuth(ref))
		if data == nil {
			continue
		}
		if uri := media.ToDataURI(data); uri != "" {
			desc = strings.ReplaceAll(desc, ref, uri)
		}
	}

	steps := make([]api.CaseStep, 0, len(cases))
	for _, c := range cases {
		steps = append(steps, api.CaseStep{
			Text1: fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p>", c.Name, c.Scenario),
			Text3: fmt.Sprintf("<p>%s</p>", c.ExpectedResult),
		})
	}

	return api.NewCasePayload(issue.Summary, issue.Key, desc, steps)
}

// Apply performs the create-or-update transition. With forceUpdate set, an
// existing case with the candidate name is updated in place; otherwise a
// new case is created. The duplicate-skip decision happens before Apply is
// called.
func (r *Reconciler) Apply(ctx context.Context, projectID, folderID int64, issue models.Issue, cases []models.TestCase, forceUpdate bool) (*api.CaseRecord, string, error) {
	payload := r.BuildPayload(ctx, issue, cases)

	if forceUpdate {
		if existing := r.FindCaseByName(ctx, projectID, folderID, issue.Summary); existing != nil {
			rec, err := r.testmo.UpdateCase(ctx, projectID, existing.ID, payload)
			if err != nil {
				return nil, models.ActionNone, err
			}
			return rec, models.ActionUpdated, nil
		}
	}

	rec, err := r.testmo.CreateCase(ctx, projectID, folderID, payload)
	if err != nil {
		return nil, models.ActionNone, err
	}
	return rec, models.ActionCreated, nil
}

// ownsLink reports whether a remote link was written by this tool
func (r *Reconciler) ownsLink(link models.RemoteLink) bool {
	return strings.Contains(link.Title, "Testmo") ||
		strings.Contains(strings.ToLower(link.URL), "testmo") ||
		strings.Contains(link.URL, r.testmo.WebBaseURL())
}

// ReplaceRemoteLink removes every Testmo link previously recorded on the
// issue and adds exactly one pointing at the given case. At most one live
// Testmo link per issue.
func (r *Reconciler) ReplaceRemoteLink(ctx context.Context, issueKey string, projectID, caseID int64, caseName string) {
	links, err := r.jira.ListRemoteLinks(ctx, issueKey)
	if err != nil {
		log.Printf("reconcile: failed to list links on %s: %v", issueKey, err)
	}
	for _, link := range links {
		if !r.ownsLink(link) {
			continue
		}
		if err := r.jira.DeleteRemoteLink(ctx, issueKey, link.ID); err != nil {
			log.Printf("reconcile: failed to delete old link %d on %s: %v", link.ID, issueKey, err)
			continue
		}
		log.Printf("reconcile: deleted old remote link %d on %s", link.ID, issueKey)
	}

	webBase := r.testmo.WebBaseURL()
	caseURL := fmt.Sprintf("%s/repositories/%d?case_id=%d", webBase, projectID, caseID)
	title := linkTitlePrefix + caseName
	if err := r.jira.AddRemoteLink(ctx, issueKey, title, caseURL, webBase+"/favicon.ico"); err != nil {
		log.Printf("reconcile: failed to add remote link on %s: %v", issueKey, err)
		return
	}
	log.Printf("reconcile: remote link added to %s", issueKey)
}

// CleanDeadLinks probes every Testmo link on the issue and deletes the ones
// whose case no longer resolves remotely. This guards against cases deleted
// out-of-band since the last sync.
func (r *Reconciler) CleanDeadLinks(ctx context.Context, issueKey string) {
	links, err := r.jira.ListRemoteLinks(ctx, issueKey)
	if err != nil {
		log.Printf("reconcile: could not fetch links for %s: %v", issueKey, err)
		return
	}

	cleaned := 0
	for _, link := range links {
		if !r.ownsLink(link) {
			continue
		}
		m := caseIDRe.FindStringSubmatch(link.URL)
		if m == nil {
			continue
		}
		caseID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}

		exists, err := r.testmo.CaseExists(ctx, caseID)
		if err != nil {
			log.Printf("reconcile: case %d probe failed, keeping link: %v", caseID, err)
			continue
		}
		if exists {
			continue
		}

		log.Printf("reconcile: dead link found (case %d deleted), removing from %s", caseID, issueKey)
		if err := r.jira.DeleteRemoteLink(ctx, issueKey, link.ID); err != nil {
			log.Printf("reconcile: failed to delete dead link %d on %s: %v", link.ID, issueKey, err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		log.Printf("reconcile: cleaned %d dead links for %s", cleaned, issueKey)
	}
}
