// Package sync drives the per-task pipeline: fetch issue, extract cases,
// collect media, reconcile against Testmo, upload images and link back.
package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	gosync "sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/selimerdinc/VeloxCase/internal/ai"
	"github.com/selimerdinc/VeloxCase/internal/api"
	"github.com/selimerdinc/VeloxCase/internal/extract"
	"github.com/selimerdinc/VeloxCase/internal/media"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/selimerdinc/VeloxCase/internal/reconcile"
)

// uploadWorkers bounds concurrent attachment uploads per task
const uploadWorkers = 3

// Syncer handles syncing Jira tasks to Testmo cases
type Syncer struct {
	jira       *api.JiraClient
	testmo     *api.TestmoClient
	recon      *reconcile.Reconciler
	downloader *media.Downloader
	// generator is nil when AI enrichment is disabled
	generator ai.Generator
	// vision controls whether downloaded images are forwarded to the
	// generator
	vision bool
	// Default number of workers for parallel batch processing
	workers int
}

// New creates a new syncer
func New(jira *api.JiraClient, testmo *api.TestmoClient, downloader *media.Downloader, generator ai.Generator, vision bool) *Syncer {
	return &Syncer{
		jira:       jira,
		testmo:     testmo,
		recon:      reconcile.New(jira, testmo, downloader),
		downloader: downloader,
		generator:  generator,
		vision:     vision,
		workers:    3,
	}
}

// SetWorkers sets the number of parallel workers for batch processing
func (s *Syncer) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10
	}
	s.workers = workers
}

// NormalizeTaskKey strips a pasted browse URL down to the bare issue key
// and canonicalizes it ("https://x.atlassian.net/browse/proj-1" -> "PROJ-1")
func NormalizeTaskKey(key string) string {
	if idx := strings.LastIndex(key, "browse/"); idx >= 0 {
		key = key[idx+len("browse/"):]
	}
	return strings.ToUpper(strings.TrimSpace(key))
}

// ProcessTask runs the full pipeline for one task key. It never returns an
// error: every failure mode, panics included, lands in the result record.
func (s *Syncer) ProcessTask(ctx context.Context, key string, projectID, folderID int64, forceUpdate bool) (result models.TaskResult) {
	key = NormalizeTaskKey(key)
	result = models.TaskResult{Task: key, Status: models.ResultError}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("sync: panic while processing %s: %v", key, r)
			result = models.TaskResult{Task: key, Status: models.ResultError, Message: fmt.Sprint(r)}
		}
	}()

	// Remove links whose Testmo case was deleted out-of-band
	s.recon.CleanDeadLinks(ctx, key)

	issue := s.jira.GetIssue(ctx, key)
	if !issue.Found() {
		log.Printf("sync: task not found: %s", key)
		result.Message = "Task bulunamadı"
		return result
	}

	if !forceUpdate {
		if existing := s.recon.FindCaseByName(ctx, projectID, folderID, issue.Summary); existing != nil {
			log.Printf("sync: duplicate found for %s, skipping", key)
			return models.TaskResult{
				Task:     key,
				Status:   models.ResultDuplicate,
				CaseName: issue.Summary,
				CaseID:   existing.ID,
				Message:  "Aynı isimde kayıt mevcut",
			}
		}
	}

	attachments := s.jira.GetAttachments(ctx, key)
	if len(attachments) > 0 {
		log.Printf("sync: %d image attachments found for %s", len(attachments), key)
	}
	images := s.downloader.FetchAll(ctx, attachments)

	cases := s.buildCases(ctx, key, issue, images)

	rec, action, err := s.recon.Apply(ctx, projectID, folderID, issue, cases, forceUpdate)
	if err != nil || rec == nil {
		if err != nil {
			log.Printf("sync: reconcile failed for %s: %v", key, err)
			result.Message = fmt.Sprintf("Case oluşturulamadı: %v", err)
		} else {
			result.Message = "Case oluşturulamadı"
		}
		return result
	}
	log.Printf("sync: case %s for %s (id %d)", action, key, rec.ID)

	s.recon.ReplaceRemoteLink(ctx, key, projectID, rec.ID, issue.Summary)

	uploaded := s.uploadImages(ctx, rec.ID, images, action)

	isUpdate := action == models.ActionUpdated
	if err := s.jira.AddComment(ctx, key, syncComment(issue.Summary, isUpdate)); err != nil {
		log.Printf("sync: failed to comment on %s: %v", key, err)
	}

	return models.TaskResult{
		Task:     key,
		Status:   models.ResultSuccess,
		Action:   action,
		CaseName: issue.Summary,
		CaseID:   rec.ID,
		Cases:    len(cases),
		Images:   uploaded,
	}
}

// buildCases selects the case source: the AI generator when enabled (its
// output used verbatim, with a synthetic fallback when it returns nothing),
// the description-plus-extractor path otherwise.
func (s *Syncer) buildCases(ctx context.Context, key string, issue models.Issue, images []models.MediaItem) []models.TestCase {
	desc := issue.DescriptionHTML
	if desc == "" {
		desc = issue.Description
	}

	if s.generator != nil {
		var aiImages []string
		if s.vision {
			for _, img := range images {
				if uri := media.ToDataURI(img.Data); uri != "" {
					aiImages = append(aiImages, uri)
				}
			}
		}

		var comments []string
		for _, c := range s.jira.GetComments(ctx, key) {
			comments = append(comments, c.Body)
		}

		res, err := s.generator.GenerateCases(ctx, issue.Summary, desc, comments, aiImages)
		if err == nil && res != nil && len(res.TestCases) > 0 {
			return res.TestCases
		}
		log.Printf("sync: AI returned no cases for %s, falling back to extraction", key)
	}

	cases := []models.TestCase{syntheticCase(issue.Summary, desc)}
	for _, c := range s.jira.GetComments(ctx, key) {
		body := c.Text()
		if body == "" {
			continue
		}
		cases = append(cases, extract.Cases(extract.Normalize(body))...)
	}
	return cases
}

// syntheticCase wraps the issue description as the primary TC01 case
func syntheticCase(summary, description string) models.TestCase {
	return models.TestCase{
		Name:           "TC01: " + summary,
		Scenario:       description,
		ExpectedResult: "Jira açıklamasındaki gereksinimler sağlanmalı.",
		Status:         models.StatusNoRun,
	}
}

// syncComment is the tracker comment written after a successful sync
func syncComment(caseName string, isUpdate bool) string {
	action := "Oluşturulan Case"
	if isUpdate {
		action = "GÜNCELLENEN Case"
	}
	return fmt.Sprintf("✅Testmo aktarımı tamamlandı.\n%s: %s", action, caseName)
}

// uploadImages pushes the downloaded images to the case with a bounded
// worker count. On updates, images whose filename already exists on the
// case are skipped.
func (s *Syncer) uploadImages(ctx context.Context, caseID int64, images []models.MediaItem, action string) int {
	if len(images) == 0 {
		return 0
	}

	toUpload := images
	if action == models.ActionUpdated {
		existing := make(map[string]bool)
		for _, name := range s.testmo.ListCaseAttachments(ctx, caseID) {
			existing[name] = true
		}
		toUpload = nil
		for _, img := range images {
			if existing[img.Filename] {
				log.Printf("sync: skipping existing image %s", img.Filename)
				continue
			}
			toUpload = append(toUpload, img)
		}
	}

	var uploaded atomic.Int64
	g := &errgroup.Group{}
	g.SetLimit(uploadWorkers)
	for _, img := range toUpload {
		img := img
		g.Go(func() error {
			if err := s.testmo.UploadAttachment(ctx, caseID, img.Data, img.Filename); err != nil {
				log.Printf("sync: %v", err)
				return nil
			}
			uploaded.Add(1)
			return nil
		})
	}
	g.Wait()

	return int(uploaded.Load())
}

// ProcessBatch processes several task keys with a bounded worker pool. Each
// task is isolated: one task's failure never aborts its siblings, and the
// result slice preserves submission order regardless of completion order.
func (s *Syncer) ProcessBatch(ctx context.Context, keys []string, projectID, folderID int64, forceUpdate bool) []models.TaskResult {
	results := make([]models.TaskResult, len(keys))

	type job struct {
		idx int
		key string
	}
	jobs := make(chan job, len(keys))
	for i, key := range keys {
		jobs <- job{idx: i, key: key}
	}
	close(jobs)

	workers := s.workers
	if len(keys) < workers {
		workers = len(keys)
	}

	var wg gosync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx] = s.ProcessTask(ctx, j.key, projectID, folderID, forceUpdate)
			}
		}()
	}
	wg.Wait()

	return results
}
