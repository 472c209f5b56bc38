// Package ai generates candidate test cases from issue content through the
// Gemini API. The model is treated as unreliable: empty or garbled output
// yields an empty result and the caller falls back to regex extraction.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"google.golang.org/api/option"
)

const modelName = "gemini-2.0-flash"

// Options are the per-user enrichment toggles
type Options struct {
	VisionEnabled     bool
	AutomationEnabled bool
	NegativeEnabled   bool
	MockDataEnabled   bool
	SystemPrompt      string
}

// Result is the sanitized model output
type Result struct {
	TestCases            []models.TestCase `json:"test_cases"`
	AutomationCandidates []string          `json:"automation_candidates"`
}

// Generator produces candidate test cases from issue content
type Generator interface {
	GenerateCases(ctx context.Context, summary, description string, comments []string, images []string) (*Result, error)
}

// GeminiGenerator calls the Gemini API
type GeminiGenerator struct {
	apiKey string
	opts   Options
}

// NewGeminiGenerator creates a generator. The API key may be empty; calls
// then return an empty result.
func NewGeminiGenerator(apiKey string, opts Options) *GeminiGenerator {
	return &GeminiGenerator{apiKey: apiKey, opts: opts}
}

// GenerateCases asks the model for a combined case list. Any failure along
// the way (missing key, transport error, unparseable response) returns an
// empty result rather than an error the orchestrator would have to handle.
func (g *GeminiGenerator) GenerateCases(ctx context.Context, summary, description string, comments []string, images []string) (*Result, error) {
	empty := &Result{}
	if g.apiKey == "" {
		log.Printf("ai: no API key configured, skipping generation")
		return empty, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		log.Printf("ai: failed to create client: %v", err)
		return empty, nil
	}
	defer client.Close()

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)

	parts := []genai.Part{
		genai.Text(buildPrompt(g.opts)),
		genai.Text(fmt.Sprintf("Jira Verileri:\nÖzet: %s\nAçıklama: %s\nYorumlar: %s",
			summary, description, strings.Join(comments, "\n"))),
	}

	if g.opts.VisionEnabled {
		for _, img := range images {
			if data := decodeDataURI(img); data != nil {
				parts = append(parts, genai.Blob{MIMEType: "image/jpeg", Data: data})
			}
		}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		log.Printf("ai: generation failed: %v", err)
		return empty, nil
	}

	text := responseText(resp)
	if text == "" {
		return empty, nil
	}

	return parseResponse(text, g.opts.MockDataEnabled), nil
}

// buildPrompt assembles the system instruction from the feature toggles.
// The base instruction matches the sync pipeline's contract: description
// becomes TC01, comment cases follow, model additions come last, and the
// reply must be a bare JSON object.
func buildPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString(`Profesyonel bir QA mühendisi olarak Jira verilerini analiz et.

GÖREVİN:
1. Jira açıklamasını "Ana Senaryo (TC01)" olarak değerlendir.
2. Yorumlarda belirtilmiş TÜM test caselerini ayıkla (TC02, TC03... şeklinde devam ettir).
3. Sistemin kararlılığını artıracak kendi özgün test senaryolarını da ekle.

ÇIKTI FORMATI:
Yanıtın SADECE şu yapıda bir JSON objesi olmalıdır:
{"test_cases":[{"name":"TC01: Başlık","scenario":"...","expected_result":"...","status":"NO RUN","mock_data":null,"edge_cases":[]}],"automation_candidates":["TC01: ..."]}

TEMEL KURALLAR:
1. "name" alanındaki "TC" ifadesi her zaman büyük harf olmalıdır.
2. Yanıt içerisinde JSON haricinde hiçbir açıklama veya markdown karakteri bulunmamalıdır.
`)

	if opts.AutomationEnabled {
		b.WriteString("Oluşan birleşik listeden otomasyona (Robot Framework/Selenium) en uygun ve kritik olanları \"automation_candidates\" listesine ekle.\n")
	} else {
		b.WriteString("\"automation_candidates\" listesini boş bırak.\n")
	}
	if opts.NegativeEnabled {
		b.WriteString("Negatif test senaryoları ve edge-case'leri de dahil et, 'edge_cases' alanına liste olarak ekle.\n")
	} else {
		b.WriteString("SADECE işlevsel senaryolara odaklan.\n")
	}
	if opts.MockDataEnabled {
		b.WriteString("Adımlarda kullanılabilecek gerçekçi mock veriler ('mock_data' alanı) JSON formatında hazırla.\n")
	}
	if opts.VisionEnabled {
		b.WriteString("Jira ekindeki görselleri analiz et ve adımları görsellere göre zenginleştir.\n")
	}

	instruction := strings.TrimSpace(opts.SystemPrompt)
	if instruction == "" {
		instruction = "Jira yorumlarındaki caseleri en başa al, üzerine kendi analizini ekle."
	}
	b.WriteString("\nEKSTRA TALİMATLAR:\n")
	b.WriteString(instruction)

	return b.String()
}

// responseText flattens the first candidate's text parts
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

type rawCase struct {
	Name           string          `json:"name"`
	Scenario       string          `json:"scenario"`
	ExpectedResult string          `json:"expected_result"`
	Status         string          `json:"status"`
	MockData       json.RawMessage `json:"mock_data"`
	EdgeCases      []string        `json:"edge_cases"`
}

// parseResponse strips markdown fences, decodes the JSON object and
// sanitizes each case. Garbled output yields an empty result.
func parseResponse(text string, mockEnabled bool) *Result {
	text = stripFences(text)

	var payload struct {
		TestCases            []rawCase `json:"test_cases"`
		AutomationCandidates []string  `json:"automation_candidates"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		log.Printf("ai: failed to parse model response: %v", err)
		return &Result{}
	}

	result := &Result{AutomationCandidates: payload.AutomationCandidates}
	for _, raw := range payload.TestCases {
		result.TestCases = append(result.TestCases, sanitizeCase(raw, payload.AutomationCandidates, mockEnabled))
	}
	return result
}

func sanitizeCase(raw rawCase, candidates []string, mockEnabled bool) models.TestCase {
	c := models.TestCase{
		Name:           raw.Name,
		Scenario:       raw.Scenario,
		ExpectedResult: raw.ExpectedResult,
		Status:         raw.Status,
		EdgeCases:      raw.EdgeCases,
	}
	if c.Name == "" {
		c.Name = "Unnamed Test Case"
	}
	if c.Scenario == "" {
		c.Scenario = "No scenario provided"
	}
	if c.ExpectedResult == "" {
		c.ExpectedResult = "No expected result provided"
	}
	if c.Status == "" {
		c.Status = models.StatusNoRun
	}

	for _, candidate := range candidates {
		if strings.Contains(candidate, raw.Name) {
			c.IsAutomationCandidate = true
			break
		}
	}

	// Testmo's step schema has no structured sub-fields, so mock data is
	// flattened into the scenario text
	if mockEnabled && len(raw.MockData) > 0 && string(raw.MockData) != "null" {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw.MockData, "", "  "); err == nil {
			c.Scenario += "\n\n**[TEST DATA]**\n" + pretty.String()
		} else {
			c.Scenario += "\n\n**[TEST DATA]**\n" + string(raw.MockData)
		}
	}

	return c
}

// stripFences removes a surrounding ```json ... ``` (or plain ```) fence
func stripFences(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

// decodeDataURI returns the raw bytes of a base64 data URI (or bare base64)
func decodeDataURI(s string) []byte {
	if idx := strings.Index(s, ","); idx >= 0 {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
