package model

// IntentType - классифицированное намерение пользователя
type IntentType string

const (
	IntentNewStory    IntentType = "new_story"
	IntentChangeStory IntentType = "change_story"
	IntentUpdateStory IntentType = "update_story"
	IntentNonStory    IntentType = "non_story"
	IntentError       IntentType = "error"
)

// IntentAction - что оркестратору делать с этим намерением
type IntentAction string

const (
	ActionContinue        IntentAction = "continue"
	ActionStop            IntentAction = "stop"
	ActionRequestMoreInfo IntentAction = "request_more_info"
)

// IntentResult - результат классификации запроса.
// Elements заполнены только для story-интентов.
type IntentResult struct {
	Intent   IntentType
	Action   IntentAction
	Message  string
	Elements StoryElements
	// Context - introduction_context от классификатора,
	// передается рассказчику как инструкция.
	Context string
}
