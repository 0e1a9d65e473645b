package models

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	UserAnswer    string   `json:"userAnswer,omitempty"`
}

// QuizAndResources is the result of the grounded quiz generation call.
type QuizAndResources struct {
	Quiz            []QuizQuestion   `json:"quiz"`
	Resources       []Resource       `json:"resources"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

// NewQuestions returns the entries of batch whose question text is not in
// existing, dropping repeats within batch as well.
func NewQuestions(existing, batch []QuizQuestion) []QuizQuestion {
	seen := make(map[string]struct{}, len(existing)+len(batch))
	for _, q := range existing {
		seen[q.Question] = struct{}{}
	}

	var fresh []QuizQuestion
	for _, q := range batch {
		if _, dup := seen[q.Question]; dup {
			continue
		}
		seen[q.Question] = struct{}{}
		fresh = append(fresh, q)
	}
	return fresh
}
