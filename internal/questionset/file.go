package questionset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/victornm/geeko/internal/domain"
)

// ReadFile decodes a JSON array of question sets. Sets are validated when a session uses them.
func ReadFile(path string) ([]domain.QuestionSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question sets: %w", err)
	}

	var sets []domain.QuestionSet
	if err := json.Unmarshal(b, &sets); err != nil {
		return nil, fmt.Errorf("decode question sets %s: %w", path, err)
	}

	for i, set := range sets {
		if set.SetID == "" {
			return nil, fmt.Errorf("question sets %s: set at position %d has no ID", path, i)
		}
	}

	return sets, nil
}
