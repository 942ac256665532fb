package ai

import (
	"bufio"
	"errors"
	"strconv"
	"strings"
)

const (
	isAppropriateMarker = "is_appropriate:"
	reasonMarker        = "reason:"
	scoreMarker         = "score:"
	errorMarker         = "ERROR"

	// defaultScore - мягкое значение по умолчанию при сбое парсинга.
	// Не 0: форматная ошибка модели не должна топить историю.
	defaultScore = 5
)

// VerdictResult - распарсенный ответ скоринг-прохода судьи.
type VerdictResult struct {
	IsAppropriate bool
	Reason        string
	Score         int
}

// ParseVerdictResponse парсит ответ модели в формате:
//
//	is_appropriate: YES|NO
//	reason: <text>
//	score: X/10
//
// Маркер ERROR в ответе означает сбой самой оценки: score=0, is_appropriate=false.
func ParseVerdictResponse(raw string) VerdictResult {
	result := VerdictResult{
		IsAppropriate: false,
		Reason:        "No specific reason provided.",
		Score:         defaultScore,
	}

	if strings.Contains(raw, errorMarker) {
		result.Reason = strings.TrimSpace(raw)
		result.Score = 0
		return result
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, isAppropriateMarker):
			result.IsAppropriate = strings.Contains(line, "YES")
		case strings.HasPrefix(line, reasonMarker):
			result.Reason = strings.TrimSpace(strings.TrimPrefix(line, reasonMarker))
		case strings.HasPrefix(line, scoreMarker):
			scoreStr := strings.TrimSpace(strings.TrimPrefix(line, scoreMarker))
			// Берем целую часть до "/" из "9/10"
			scoreStr = strings.SplitN(scoreStr, "/", 2)[0]
			scoreStr = strings.TrimSpace(scoreStr)
			if f, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				result.Score = int(f)
			}
		}
	}

	return result
}

// ExtractJSONObject извлекает JSON-объект из ответа модели,
// отбрасывая markdown-ограждения и пояснительный текст вокруг.
func ExtractJSONObject(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return "", errors.New("ответ не содержит JSON-объекта")
	}
	return cleaned[start : end+1], nil
}
