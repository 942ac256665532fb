package service

import "errors"

var (
	// ErrClassificationFailed - шлюз не смог классифицировать запрос
	ErrClassificationFailed = errors.New("ошибка классификации запроса")
	// ErrGenerationFailed - шлюз не смог сгенерировать историю
	ErrGenerationFailed = errors.New("ошибка генерации истории")
	// ErrEvaluationFailed - шлюз не смог оценить историю
	ErrEvaluationFailed = errors.New("ошибка оценки истории")
	// ErrPromptRequired - в запросе отсутствует prompt
	ErrPromptRequired = errors.New("prompt is required")
)
