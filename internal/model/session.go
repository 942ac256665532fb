package model

// PathStep - один шаг интерактивной истории: сцена и выбор, который к ней привел
type PathStep struct {
	Scene  string `json:"scene"`
	Choice string `json:"choice"`
}

// StorySession - состояние интерактивной истории.
// Принадлежит ровно одной активной сессии пользователя.
type StorySession struct {
	UserID       string     `json:"user_id"`
	CurrentScene string     `json:"current_scene"`
	Characters   []string   `json:"characters"`
	ChoicesMade  []string   `json:"choices_made"`
	UserInputs   []string   `json:"user_inputs"`
	StoryPath    []PathStep `json:"story_path"`
}

// NewStorySession создает пустую сессию
func NewStorySession(userID string) *StorySession {
	return &StorySession{
		UserID:      userID,
		Characters:  []string{},
		ChoicesMade: []string{},
		UserInputs:  []string{},
		StoryPath:   []PathStep{},
	}
}

// Advance обновляет состояние после очередного шага
func (s *StorySession) Advance(scene string, characters []string, choice string) {
	s.CurrentScene = scene
	if len(characters) > 0 {
		s.Characters = characters
	}
	if choice != "" {
		s.ChoicesMade = append(s.ChoicesMade, choice)
		s.StoryPath = append(s.StoryPath, PathStep{Scene: scene, Choice: choice})
	}
}
