package model

import (
	"encoding/json"
	"strings"
	"time"
)

// StoryMetadata - простые метаданные сгенерированной истории
type StoryMetadata struct {
	Length     int     `json:"length"`
	Complexity float64 `json:"complexity"`
	Theme      string  `json:"theme"`
	Moral      string  `json:"moral"`
}

// Story - сохраненная история. Неизменяема после записи:
// каждый принятый драфт регенерации пишется отдельной записью.
type Story struct {
	ID        int64         `json:"id"`
	Prompt    string        `json:"prompt"`
	Story     string        `json:"story"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  StoryMetadata `json:"metadata"`
}

// UserStory связывает пользователя, интент и историю
type UserStory struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	StoryID   int64      `json:"story_id"`
	Prompt    string     `json:"prompt"`
	Intent    IntentType `json:"intent"`
	Timestamp time.Time  `json:"timestamp"`
}

// Evaluation - одна оценка истории судьей. История может накапливать
// несколько оценок за раунды регенерации, последняя по времени - авторитетная.
type Evaluation struct {
	ID             int64     `json:"id"`
	UserStoryID    int64     `json:"user_story_id"`
	Score          int       `json:"score"`
	IsAppropriate  bool      `json:"is_appropriate"`
	Reason         string    `json:"reason"`
	Feedback       string    `json:"feedback"`
	FullEvaluation string    `json:"full_evaluation"`
	Timestamp      time.Time `json:"timestamp"`
}

// FeedbackLogEntry - запись саммаризованного фидбека по оценке
type FeedbackLogEntry struct {
	ID           int64     `json:"id"`
	EvaluationID int64     `json:"story_evaluation_id"`
	Message      string    `json:"feedback_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Character - персонаж истории. Модель может вернуть как объект
// {name, description}, так и просто строку с именем.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UnmarshalJSON принимает и объект, и голую строку
func (c *Character) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		c.Description = ""
		return nil
	}
	type plain Character
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Character(p)
	return nil
}

// StoryElements - извлеченные из естественного языка элементы истории.
// Любое поле может отсутствовать: отсутствие означает "наследовать
// предыдущее значение или использовать дефолт генерации".
type StoryElements struct {
	Characters       []Character       `json:"characters,omitempty"`
	Setting          string            `json:"setting,omitempty"`
	Conflict         string            `json:"conflict,omitempty"`
	PlotIdea         string            `json:"plot_idea,omitempty"`
	Themes           []string          `json:"theme,omitempty"`
	MoralLesson      string            `json:"moral_lesson,omitempty"`
	Tone             string            `json:"tone,omitempty"`
	LengthPreference string            `json:"length_preference,omitempty"`
	TargetAgeGroup   string            `json:"target_age_group,omitempty"`
	Extra            map[string]string `json:"-"`
}

// HasEssentials проверяет наличие базовой информации для генерации.
// Достаточно персонажей, сеттинга или идеи сюжета.
func (e StoryElements) HasEssentials() bool {
	return len(e.Characters) > 0 || e.Setting != "" || e.PlotIdea != ""
}

// IsZero сообщает, что элементы полностью пусты
func (e StoryElements) IsZero() bool {
	return len(e.Characters) == 0 && e.Setting == "" && e.Conflict == "" &&
		e.PlotIdea == "" && len(e.Themes) == 0 && e.MoralLesson == "" &&
		e.Tone == "" && e.LengthPreference == "" && e.TargetAgeGroup == ""
}

// Merge накладывает обновленные элементы поверх текущих:
// непустые поля из updated выигрывают, пустые наследуют прежние значения.
func (e StoryElements) Merge(updated StoryElements) StoryElements {
	merged := e
	if len(updated.Characters) > 0 {
		merged.Characters = updated.Characters
	}
	if updated.Setting != "" {
		merged.Setting = updated.Setting
	}
	if updated.Conflict != "" {
		merged.Conflict = updated.Conflict
	}
	if updated.PlotIdea != "" {
		merged.PlotIdea = updated.PlotIdea
	}
	if len(updated.Themes) > 0 {
		merged.Themes = updated.Themes
	}
	if updated.MoralLesson != "" {
		merged.MoralLesson = updated.MoralLesson
	}
	if updated.Tone != "" {
		merged.Tone = updated.Tone
	}
	if updated.LengthPreference != "" {
		merged.LengthPreference = updated.LengthPreference
	}
	if updated.TargetAgeGroup != "" {
		merged.TargetAgeGroup = updated.TargetAgeGroup
	}
	return merged
}

// CharacterNames возвращает имена персонажей через " and "
func (e StoryElements) CharacterNames() string {
	names := make([]string, 0, len(e.Characters))
	for _, c := range e.Characters {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return strings.Join(names, " and ")
}

// CharacterDescriptions возвращает описания персонажей для промпта
func (e StoryElements) CharacterDescriptions() string {
	descs := make([]string, 0, len(e.Characters))
	for _, c := range e.Characters {
		switch {
		case c.Name != "" && c.Description != "":
			descs = append(descs, c.Name+" who is "+c.Description)
		case c.Name != "":
			descs = append(descs, c.Name)
		}
	}
	return strings.Join(descs, ", ")
}
