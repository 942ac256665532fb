package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
)

// Фиксированные реплики гейта профилирования
const (
	profilingPromptMessage = "Welcome! Before your first story, tell me a little about the listener: age, favorite characters or themes, anything that helps me pick the right story."
	profilingAckMessage    = "Thank you! I'll keep that in mind. Now, what story would you like to hear?"
)

// StoryResult - итог обработки одного запроса. Story пустая для
// ответов гейта и не-continue намерений.
type StoryResult struct {
	Status   model.MessageStatus
	Message  string
	UserID   string
	Story    string
	Intent   model.IntentType
	Metadata *model.StoryMetadata
}

// Orchestrator связывает гейт профилирования, классификатор и цикл
// генерации-оценки. Запросы одного пользователя сериализуются.
type Orchestrator struct {
	intents       *IntentAnalyzer
	storyteller   *Storyteller
	judge         *Judge
	feedback      *FeedbackSummarizer
	profiler      *Profiler
	ageFilter     *AgeFilter
	conversations repository.ConversationRepository
	stories       repository.StoryRepository
	logger        *zap.Logger

	evaluationLimit int
	acceptThreshold int

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// OrchestratorConfig - параметры цикла регенерации
type OrchestratorConfig struct {
	EvaluationLimit int
	AcceptThreshold int
}

func NewOrchestrator(
	intents *IntentAnalyzer,
	storyteller *Storyteller,
	judge *Judge,
	feedback *FeedbackSummarizer,
	profiler *Profiler,
	ageFilter *AgeFilter,
	conversations repository.ConversationRepository,
	stories repository.StoryRepository,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.EvaluationLimit < 1 {
		cfg.EvaluationLimit = 3
	}
	if cfg.AcceptThreshold == 0 {
		cfg.AcceptThreshold = 7
	}
	return &Orchestrator{
		intents:         intents,
		storyteller:     storyteller,
		judge:           judge,
		feedback:        feedback,
		profiler:        profiler,
		ageFilter:       ageFilter,
		conversations:   conversations,
		stories:         stories,
		logger:          logger.Named("Orchestrator"),
		evaluationLimit: cfg.EvaluationLimit,
		acceptThreshold: cfg.AcceptThreshold,
		userLocks:       make(map[string]*sync.Mutex),
	}
}

// userLock возвращает мьютекс пользователя. Корректность гейта
// профилирования требует сериализации записей одного пользователя.
func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		o.userLocks[userID] = lock
	}
	return lock
}

// HandleStoryRequest обрабатывает один запрос целиком: гейт
// профилирования, классификация, генерация с циклом регенерации,
// запись хода диалога. Ошибка возвращается только при фатальном сбое
// персистентности (наружный обработчик превращает ее в 500).
func (o *Orchestrator) HandleStoryRequest(ctx context.Context, userID, prompt string) (*StoryResult, error) {
	// гостевой запрос без user_id получает следующий числовой id;
	// выданный id уже зарезервирован профилем-заготовкой
	freshGuest := false
	if userID == "" {
		var err error
		userID, err = o.profiler.NextUserID(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка выдачи user_id: %w", err)
		}
		freshGuest = true
	}
	log := o.logger.With(zap.String("userID", userID))

	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// --- гейт профилирования ---
	if result, handled, err := o.profilingGate(ctx, userID, prompt, freshGuest); err != nil {
		return nil, err
	} else if handled {
		storyRequestsTotal.WithLabelValues(string(result.Status)).Inc()
		return result, nil
	}

	// --- классификация ---
	intent := o.intents.Classify(ctx, prompt, userID, o.classificationContext(ctx, userID))
	if intent.Action != model.ActionContinue {
		status := actionStatus(intent.Action)
		if err := o.logTurn(ctx, userID, prompt, intent.Message, status); err != nil {
			return nil, err
		}
		storyRequestsTotal.WithLabelValues(string(status)).Inc()
		return &StoryResult{
			Status:  status,
			Message: intent.Message,
			UserID:  userID,
			Intent:  intent.Intent,
		}, nil
	}

	// --- генерация + цикл регенерации ---
	final, metadata := o.generateWithRegeneration(ctx, userID, prompt, intent)

	// запись истории и метрик профиля не критична для запроса
	o.profiler.RecordStoryInteraction(ctx, userID, prompt, final)

	if err := o.logTurn(ctx, userID, prompt, final, model.StatusSuccess); err != nil {
		return nil, err
	}

	log.Info("Story request completed", zap.String("intent", string(intent.Intent)))
	storyRequestsTotal.WithLabelValues(string(model.StatusSuccess)).Inc()
	return &StoryResult{
		Status:   model.StatusSuccess,
		UserID:   userID,
		Story:    final,
		Intent:   intent.Intent,
		Metadata: metadata,
	}, nil
}

// profilingGate реализует машину состояний UNKNOWN_USER →
// AWAITING_PROFILE → READY. handled=true означает, что запрос
// обработан гейтом и до классификации не дошел.
func (o *Orchestrator) profilingGate(ctx context.Context, userID, prompt string, freshGuest bool) (*StoryResult, bool, error) {
	last, err := o.conversations.Last(ctx, userID)
	switch {
	case errors.Is(err, model.ErrConversationNotFound):
		// у свежевыданного гостевого id профиль существует лишь как
		// резервация, она не означает пройденное профилирование
		if !freshGuest {
			exists, err := o.profiler.Exists(ctx, userID)
			if err != nil {
				return nil, false, fmt.Errorf("ошибка проверки профиля: %w", err)
			}
			if exists {
				// вернувшийся пользователь без истории диалогов:
				// профиль авторитетен, профилирование не повторяется
				return nil, false, nil
			}
		}
		if _, err := o.profiler.GetOrCreate(ctx, userID); err != nil {
			return nil, false, err
		}
		if err := o.logTurn(ctx, userID, prompt, profilingPromptMessage, model.StatusProfilingRequired); err != nil {
			return nil, false, err
		}
		return &StoryResult{
			Status:  model.StatusProfilingRequired,
			Message: profilingPromptMessage,
			UserID:  userID,
		}, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("ошибка чтения диалогов: %w", err)
	}

	if agentMsg := last.LastAgentMessage(); agentMsg != nil && agentMsg.Status == model.StatusProfilingRequired {
		// текущая реплика - ответ на профилирование, не запрос истории
		if err := o.profiler.GatherPreferences(ctx, userID, prompt); err != nil {
			o.logger.Warn("Preference gathering failed", zap.String("userID", userID), zap.Error(err))
		}
		if err := o.logTurn(ctx, userID, prompt, profilingAckMessage, model.StatusProceed); err != nil {
			return nil, false, err
		}
		return &StoryResult{
			Status:  model.StatusProceed,
			Message: profilingAckMessage,
			UserID:  userID,
		}, true, nil
	}

	return nil, false, nil
}

// classificationContext собирает контекст для классификатора:
// последние ходы диалога и последняя история пользователя.
// Сбои чтения не фатальны - классификатор работает и без контекста.
func (o *Orchestrator) classificationContext(ctx context.Context, userID string) ClassificationContext {
	var cc ClassificationContext

	if turns, err := o.conversations.ListByUser(ctx, userID); err == nil {
		if len(turns) > 5 {
			turns = turns[len(turns)-5:]
		}
		cc.RecentTurns = turns
	}

	if link, err := o.stories.LastUserStory(ctx, userID); err == nil {
		cc.LastPrompt = link.Prompt
		if story, err := o.stories.GetStory(ctx, link.StoryID); err == nil {
			cc.LastStory = story.Story
		}
	}
	return cc
}

// generateWithRegeneration выполняет начальную генерацию и цикл
// генерация → оценка → фидбек → регенерация. Никогда не возвращает
// пустую историю: худший случай - текст-извинение.
func (o *Orchestrator) generateWithRegeneration(ctx context.Context, userID, prompt string, intent model.IntentResult) (string, *model.StoryMetadata) {
	log := o.logger.With(zap.String("userID", userID))

	previousStory := ""
	if intent.Intent == model.IntentChangeStory || intent.Intent == model.IntentUpdateStory {
		if link, err := o.stories.LastUserStory(ctx, userID); err == nil {
			if story, err := o.stories.GetStory(ctx, link.StoryID); err == nil {
				previousStory = story.Story
			}
		}
	}

	gen := o.storyteller.Generate(ctx, prompt, userID, intent.Elements, intent.Intent, intent.Context, previousStory)
	if gen.Err != nil {
		// шлюз недоступен: оценивать извинение бессмысленно
		log.Warn("Initial generation failed, skipping regeneration loop", zap.Error(gen.Err))
		return gen.Story, nil
	}

	final := o.regenerationLoop(ctx, userID, prompt, gen, intent.Elements)

	metadata := gen.Metadata
	if final != gen.Story {
		// принятый драфт отличается от изначально записанного -
		// сохраняем его отдельной записью
		m, err := o.storyteller.PersistAccepted(ctx, prompt, userID, final, intent.Intent)
		if err != nil {
			log.Warn("Failed to persist accepted draft", zap.Error(err))
		}
		metadata = m
	}
	return final, &metadata
}

// regenerationLoop - ядро системы. Одна оценка на итерацию, лучший
// драфт никогда не теряется, бюджет итераций жесткий, сбои внутри
// итерации деградируют и не пробрасываются.
func (o *Orchestrator) regenerationLoop(ctx context.Context, userID, prompt string, gen GeneratedStory, elements model.StoryElements) string {
	log := o.logger.With(zap.String("userID", userID))

	draft := gen.Story
	bestDraft := gen.Story
	bestScore := -1
	iterations := 0

	for i := 1; i <= o.evaluationLimit; i++ {
		eval := o.judge.Evaluate(ctx, draft, prompt, elements, gen.UserStoryID)
		iterations++

		// фильтр проверяется до учета лучшего драфта: забракованный
		// драфт не должен выигрывать ни при позднем принятии другого,
		// ни при исчерпании бюджета
		accepted := eval.Score >= o.acceptThreshold
		eligible := true
		if accepted && o.ageFilter != nil {
			if verdict := o.ageFilter.Check(ctx, draft, elements.TargetAgeGroup); !verdict.IsSafe {
				// сигнал на регенерацию, не отказ запроса
				log.Warn("Accepted draft failed age filter, regenerating", zap.String("verdict", verdict.Evaluation))
				eval.Feedback = verdict.Evaluation
				accepted = false
				eligible = false
			}
		}

		// строго больше: при равном счете остается первый драфт
		if eligible && eval.Score > bestScore {
			bestScore = eval.Score
			bestDraft = draft
		}

		if accepted {
			break
		}

		// дедлайн запроса: возвращаем лучшее из найденного
		if ctx.Err() != nil {
			log.Warn("Request deadline reached mid-loop, returning best draft", zap.Error(ctx.Err()))
			break
		}

		// на последней итерации регенерировать нечего: новый драфт
		// уже никогда не будет оценен
		if i == o.evaluationLimit {
			break
		}

		feedbackMessage := o.feedback.Summarize(ctx, eval.Feedback, draft, prompt, elements, eval.ID)
		elements = o.intents.RefineElements(ctx, prompt, elements, eval, feedbackMessage)

		newDraft, err := o.storyteller.Regenerate(ctx, prompt, bestDraft, elements, eval, feedbackMessage)
		if err != nil {
			// продолжаем с лучшим драфтом, следующая итерация
			// израсходует бюджет на его переоценку
			log.Warn("Regeneration failed, continuing with best draft", zap.Error(err))
			draft = bestDraft
			continue
		}
		draft = newDraft
	}

	regenerationIterations.Observe(float64(iterations))
	acceptedStoryScore.Observe(float64(bestScore))
	log.Debug("Regeneration loop finished",
		zap.Int("iterations", iterations),
		zap.Int("bestScore", bestScore))
	return bestDraft
}

// logTurn пишет ход диалога (пара сообщений user/agent). Сбой записи
// фатален для запроса: на этих записях держится гейт профилирования.
func (o *Orchestrator) logTurn(ctx context.Context, userID, userContent, agentContent string, status model.MessageStatus) error {
	_, err := o.conversations.Add(ctx, userID, []model.Message{
		{Role: model.RoleUser, Content: userContent},
		{Role: model.RoleAgent, Content: agentContent, Status: status},
	})
	if err != nil {
		return fmt.Errorf("ошибка записи хода диалога: %w", err)
	}
	return nil
}

func actionStatus(action model.IntentAction) model.MessageStatus {
	switch action {
	case model.ActionRequestMoreInfo:
		return model.StatusRequestMoreInfo
	default:
		return model.StatusStop
	}
}
