package service

import (
	"strings"

	"storyteller-server/internal/model"
)

// Эвристики метаданных. Не NLP, а дешевая классификация по ключевым
// словам: этого достаточно для истории и рекомендаций.

var themeKeywords = []struct {
	theme    string
	keywords []string
}{
	{"adventure", []string{"journey", "quest", "explore"}},
	{"friendship", []string{"friend", "together", "help"}},
	{"family", []string{"family", "parent", "sibling"}},
	{"learning", []string{"learn", "school", "teach"}},
	{"nature", []string{"animal", "forest", "garden"}},
}

var moralIndicators = []string{
	"learned that",
	"moral of the story",
	"realized that",
	"understood that",
}

func computeMetadata(story string) model.StoryMetadata {
	return model.StoryMetadata{
		Length:     len(story),
		Complexity: estimateComplexity(story),
		Theme:      identifyTheme(story),
		Moral:      extractMoral(story),
	}
}

// estimateComplexity - средняя длина слова
func estimateComplexity(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += len(w)
	}
	return float64(total) / float64(len(words))
}

// identifyTheme выбирает тему с максимальным числом вхождений ключевых
// слов; при нулевых совпадениях возвращает "general"
func identifyTheme(story string) string {
	lower := strings.ToLower(story)
	best := "general"
	bestScore := 0
	for _, t := range themeKeywords {
		score := 0
		for _, kw := range t.keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best = t.theme
			bestScore = score
		}
	}
	return best
}

// extractMoral возвращает предложение с фразой-индикатором морали
func extractMoral(story string) string {
	lower := strings.ToLower(story)
	for _, indicator := range moralIndicators {
		if !strings.Contains(lower, indicator) {
			continue
		}
		for _, sentence := range strings.Split(story, ".") {
			if strings.Contains(strings.ToLower(sentence), indicator) {
				return strings.TrimSpace(sentence)
			}
		}
	}
	return "No explicit moral found"
}
