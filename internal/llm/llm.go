package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// maxSentimentChars bounds the text sent to the sentiment model. Reviews are
// truncated to this prefix to stay inside the model context window.
const maxSentimentChars = 512

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// SentimentScorer maps review text to a positivity score in [0, 1].
type SentimentScorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// OllamaEmbedder generates unit-normalized embeddings via the Ollama API.
type OllamaEmbedder struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (e *OllamaEmbedder) IsConfigured() bool {
	return ollamaHasModel(e.client, e.BaseURL, e.Model)
}

// Embed generates embeddings for the given texts, normalized to unit length.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body := map[string]any{
		"model": e.Model,
		"input": texts,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embeddings: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d texts", len(result.Embeddings), len(texts))
	}

	for i := range result.Embeddings {
		normalize(result.Embeddings[i])
	}
	return result.Embeddings, nil
}

// normalize scales v to unit length in place. Zero vectors are left as-is.
func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

const sentimentPrompt = `You are scoring the sentiment of a book review written by a student.

Classify the overall sentiment of the review as POSITIVE or NEGATIVE.

Review:
%s

Respond with ONLY this JSON:
{
    "label": "POSITIVE" or "NEGATIVE",
    "confidence": 0.0-1.0
}

confidence: how certain you are about the label, 1.0 = completely certain.`

// OllamaSentiment scores review sentiment using an Ollama chat model.
type OllamaSentiment struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaSentiment creates a new Ollama sentiment scorer.
func NewOllamaSentiment(model, baseURL string) *OllamaSentiment {
	return &OllamaSentiment{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (s *OllamaSentiment) IsConfigured() bool {
	return ollamaHasModel(s.client, s.BaseURL, s.Model)
}

// Score maps review text to a positivity score in [0, 1]. Empty or
// whitespace-only text scores a neutral 0.5 without a model call. A positive
// label maps to the model's confidence, a negative one to 1 - confidence.
func (s *OllamaSentiment) Score(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0.5, nil
	}
	if len(text) > maxSentimentChars {
		// Back up to a rune boundary so the cut never splits a character.
		cut := maxSentimentChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	response, err := s.generate(ctx, fmt.Sprintf(sentimentPrompt, text))
	if err != nil {
		return 0, err
	}

	verdict, ok := parseVerdict(response)
	if !ok {
		log.Printf("sentiment response could not be parsed, scoring neutral")
		return 0.5, nil
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	if strings.ToUpper(verdict.Label) == "POSITIVE" {
		return confidence, nil
	}
	return 1 - confidence, nil
}

func (s *OllamaSentiment) generate(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": s.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": 128,
			"temperature": 0.0,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return result.Message.Content, nil
}

// ollamaHasModel checks that the Ollama server responds and lists the model.
func ollamaHasModel(client *http.Client, baseURL, model string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", model)
	return false
}
