// Package embedder produces the fixed 768-dimensional vectors stored
// alongside every MailItem and CalendarItem, behind a small interface so
// the ingest pipeline and its tests never depend on a live network call.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jamiequint/groundeffect/internal/models"
)

// TaskType mirrors Vertex AI's embedding task-type hint, which improves
// retrieval quality when the caller distinguishes documents from queries.
type TaskType string

const (
	TaskTypeRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskTypeRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// maxInputChars truncates embedding input to stay under Vertex AI's
// practical per-instance character limit. Truncation takes a fixed-size
// head and tail rather than a plain prefix, so the distinguishing end of a
// long message (signature, call-to-action) still reaches the model.
const maxInputChars = 10000

// Model embeds a batch of text, returning one EmbeddingDimension-wide
// vector per input in the same order. Implementations must never return a
// partial batch: a failure on any input fails the whole call.
type Model interface {
	Embed(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error)
}

// TokenSource returns a valid bearer token for the Vertex AI endpoint.
type TokenSource func(ctx context.Context) (string, error)

// Config identifies the Vertex AI project/location/model to call.
type Config struct {
	ProjectID string
	Location  string // defaults to "us-central1"
	ModelName string // defaults to "text-embedding-005"
}

// VertexModel calls the Vertex AI text-embeddings REST endpoint. It is the
// engine's only Model implementation: the spec's embedder component names
// no local-inference library in the example corpus, so GroundEffect keeps
// the teacher's REST-client approach rather than inventing one.
type VertexModel struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenSource
}

// NewVertexModel constructs a VertexModel. httpClient may be nil to use
// http.DefaultClient (tests substitute a client with a fake RoundTripper).
func NewVertexModel(cfg Config, tokens TokenSource, httpClient *http.Client) *VertexModel {
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "text-embedding-005"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &VertexModel{cfg: cfg, httpClient: httpClient, tokens: tokens}
}

// Name identifies which model produced an embedding, recorded alongside
// every stored vector so a future model change can be detected and backfilled.
func (m *VertexModel) Name() string {
	return m.cfg.ModelName
}

type embeddingRequest struct {
	Instances []embeddingInstance `json:"instances"`
}

type embeddingInstance struct {
	TaskType string `json:"task_type,omitempty"`
	Content  string `json:"content"`
}

type embeddingResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// maxBatchSize is Vertex AI's per-request instance cap.
const maxBatchSize = 250

// Embed implements Model, splitting texts into maxBatchSize sub-batches
// and making one HTTP call per sub-batch.
func (m *VertexModel) Embed(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := m.embedBatch(ctx, texts[start:end], taskType)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (m *VertexModel) embedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	instances := make([]embeddingInstance, len(texts))
	for i, text := range texts {
		instances[i] = embeddingInstance{
			TaskType: string(taskType),
			Content:  truncateMiddle(text, maxInputChars),
		}
	}

	reqBody, err := json.Marshal(embeddingRequest{Instances: instances})
	if err != nil {
		return nil, models.Fatal("marshal embedding request", err)
	}

	endpoint := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		m.cfg.Location, m.cfg.ProjectID, m.cfg.Location, m.cfg.ModelName,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, models.Fatal("build embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := m.tokens(ctx)
	if err != nil {
		return nil, models.Auth("obtain Vertex AI token", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.Transient("Vertex AI request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient("read Vertex AI response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, models.Auth(fmt.Sprintf("Vertex AI returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, models.Transient(fmt.Sprintf("Vertex AI returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Validation(fmt.Sprintf("Vertex AI returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.Fatal("parse Vertex AI response", err)
	}

	out := make([][]float32, len(parsed.Predictions))
	for i, p := range parsed.Predictions {
		if len(p.Embeddings.Values) != models.EmbeddingDimension {
			return nil, models.Fatal(
				fmt.Sprintf("Vertex AI returned %d-dim embedding, want %d", len(p.Embeddings.Values), models.EmbeddingDimension),
				nil,
			)
		}
		out[i] = p.Embeddings.Values
	}
	return out, nil
}

// truncateMiddle keeps the first two-thirds and last one-third of text
// when it exceeds maxLen, so both the lede and a trailing signature or
// call-to-action survive truncation.
func truncateMiddle(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	headLen := maxLen * 2 / 3
	tailLen := maxLen - headLen
	var b strings.Builder
	b.WriteString(text[:headLen])
	b.WriteString("\n...\n")
	b.WriteString(text[len(text)-tailLen:])
	return b.String()
}
