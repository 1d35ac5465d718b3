package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/model"
)

const maxResponseBytes = 4 << 20

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// GeminiOptions configure the Gemini provider.
type GeminiOptions struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
	// RequestsPerMinute throttles calls; 0 disables the limit.
	RequestsPerMinute int
	Client            *http.Client
}

// Gemini asks the Gemini generateContent API for a rewrite.
type Gemini struct {
	opts    GeminiOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGemini(opts GeminiOptions, logger *zap.Logger) *Gemini {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Gemini{
		opts:    opts,
		client:  client,
		limiter: limiter,
		logger:  logging.OrNop(logger).Named("gemini"),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Rewrite(ctx context.Context, req Request) (Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return Result{}, fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.opts.Endpoint, "/"), g.opts.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.opts.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("gemini: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Result{}, errors.New("gemini: empty response")
	}

	res, err := ParseResponse(out.Candidates[0].Content.Parts[0].Text, req.Query)
	if err != nil {
		g.logger.Error("parse response", zap.Error(err))
		return Result{
			OptimizedQuery:   req.Query,
			OptimizationType: TypeParseError,
			Explanation:      fmt.Sprintf("Failed to parse optimization response: %v", err),
		}, nil
	}
	return res, nil
}

var promptTemplate = template.Must(template.New("prompt").Parse(`
You are a PostgreSQL query optimization expert. Optimize the following SQL query based on the provided suggestions.

ORIGINAL QUERY:
` + "```sql" + `
{{.Query}}
` + "```" + `

OPTIMIZATION SUGGESTIONS:
{{range .Suggestions}}- {{.Type}}: {{.Message}}
{{end}}
{{- if .Tables}}
Table Schemas:
{{range .Tables}}- {{.Name}}: {{.Columns}}
{{end}}{{end}}
REQUIREMENTS:
1. Rewrite the query to address as many suggestions as possible
2. Ensure the optimized query produces the same result set
3. Focus on performance improvements like:
   - Replacing SELECT * with specific columns
   - Adding appropriate indexes (suggest CREATE INDEX statements)
   - Optimizing JOIN conditions
   - Improving WHERE clause efficiency
   - Converting subqueries to JOINs where beneficial

RESPONSE FORMAT (JSON):
{
    "optimized_query": "-- Your optimized SQL query here",
    "optimization_type": "COMPREHENSIVE|INDEX|QUERY_REWRITE|JOIN_OPTIMIZATION",
    "confidence": 0.85,
    "explanation": "Detailed explanation of changes made",
    "estimated_improvement_pct": 35,
    "index_suggestions": ["CREATE INDEX idx_orders_user_id ON orders(user_id);"],
    "changes_made": ["Replaced SELECT * with specific columns"]
}

Provide only the JSON response, no additional text.
`))

type promptTable struct {
	Name    string
	Columns string
}

// BuildPrompt renders the rewrite prompt. Tables are listed by name.
func BuildPrompt(req Request) (string, error) {
	names := make([]string, 0, len(req.Schemas))
	for name := range req.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]promptTable, 0, len(names))
	for _, name := range names {
		cols := make([]string, 0, len(req.Schemas[name].Columns))
		for _, c := range req.Schemas[name].Columns {
			cols = append(cols, c.Name)
		}
		tables = append(tables, promptTable{Name: name, Columns: strings.Join(cols, ", ")})
	}

	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, struct {
		Query       string
		Suggestions []model.Suggestion
		Tables      []promptTable
	}{req.Query, req.Suggestions, tables})
	if err != nil {
		return "", fmt.Errorf("rewrite: render prompt: %w", err)
	}
	return buf.String(), nil
}

type responseBody struct {
	OptimizedQuery          *string      `json:"optimized_query"`
	OptimizationType        *string      `json:"optimization_type"`
	Confidence              *json.Number `json:"confidence"`
	Explanation             *string      `json:"explanation"`
	EstimatedImprovementPct *json.Number `json:"estimated_improvement_pct"`
	IndexSuggestions        []string     `json:"index_suggestions"`
	Changes                 []string     `json:"changes_made"`
}

// ParseResponse extracts the outermost JSON object from a model reply and
// fills in defaults for missing fields: the original query, type UNKNOWN,
// confidence 0.5 and no improvement. Confidence is clamped to [0,1].
func ParseResponse(text, original string) (Result, error) {
	m := jsonObject.FindString(text)
	if m == "" {
		return Result{}, errors.New("no JSON found in response")
	}
	var body responseBody
	if err := json.Unmarshal([]byte(m), &body); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	res := Result{
		OptimizedQuery:   original,
		OptimizationType: TypeUnknown,
		Confidence:       0.5,
		Explanation:      "No explanation provided",
		IndexSuggestions: body.IndexSuggestions,
		Changes:          body.Changes,
	}
	if body.OptimizedQuery != nil && strings.TrimSpace(*body.OptimizedQuery) != "" {
		res.OptimizedQuery = *body.OptimizedQuery
	}
	if body.OptimizationType != nil {
		res.OptimizationType = *body.OptimizationType
	}
	if body.Explanation != nil {
		res.Explanation = *body.Explanation
	}
	if body.Confidence != nil {
		v, err := body.Confidence.Float64()
		if err != nil {
			return Result{}, fmt.Errorf("confidence: %w", err)
		}
		res.Confidence = v
	}
	if body.EstimatedImprovementPct != nil {
		v, err := body.EstimatedImprovementPct.Float64()
		if err != nil {
			return Result{}, fmt.Errorf("estimated_improvement_pct: %w", err)
		}
		res.EstimatedImprovementPct = v
	}
	res.Confidence = clamp(res.Confidence)
	return res, nil
}
