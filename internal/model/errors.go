package model

import "errors"

var (
	// ErrProfileNotFound - профиль пользователя не найден
	ErrProfileNotFound = errors.New("user profile not found")
	// ErrConversationNotFound - диалог не найден
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStoryNotFound - история не найдена
	ErrStoryNotFound = errors.New("story not found")
	// ErrSessionNotFound - интерактивная сессия не начата
	ErrSessionNotFound = errors.New("interactive session not found")
)
