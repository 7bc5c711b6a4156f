package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// sentimentVerdict is the JSON shape the sentiment prompt asks the model for.
type sentimentVerdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict decodes a model response into a sentiment verdict, stripping
// the markdown code fences smaller models like to wrap JSON in.
func parseVerdict(text string) (sentimentVerdict, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return sentimentVerdict{}, false
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var v sentimentVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		log.Printf("failed to parse sentiment verdict: %v", err)
		return sentimentVerdict{}, false
	}
	return v, true
}
