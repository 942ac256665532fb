package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"storyteller-server/internal/model"
)

// MemoryStore - потокобезопасное in-memory хранилище для разработки
// и тестов. Реализует все три репозитория одним объектом,
// семантика выдачи ID (max+1) совпадает с Postgres-реализацией.
type MemoryStore struct {
	mu sync.Mutex

	profiles      map[string]*model.UserProfile
	conversations map[int64]*model.Conversation
	stories       map[int64]*model.Story
	userStories   map[int64]*model.UserStory
	evaluations   map[int64]*model.Evaluation
	feedback      map[int64]*model.FeedbackLogEntry
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]*model.UserProfile),
		conversations: make(map[int64]*model.Conversation),
		stories:       make(map[int64]*model.Story),
		userStories:   make(map[int64]*model.UserStory),
		evaluations:   make(map[int64]*model.Evaluation),
		feedback:      make(map[int64]*model.FeedbackLogEntry),
	}
}

func nextID[T any](m map[int64]T) int64 {
	var max int64
	for id := range m {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// --- ProfileRepository ---

func (s *MemoryStore) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, model.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, profile *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.profiles[profile.UserID] = &cp
	return nil
}

// NextUserID выдает следующий числовой user_id и сразу резервирует
// его профилем-заготовкой, чтобы конкурентный запрос не получил тот же
// максимум. Нечисловые идентификаторы (гостевые имена и т.п.)
// в максимуме не участвуют.
func (s *MemoryStore) NextUserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.profiles {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > max {
			max = n
		}
	}
	id := strconv.FormatInt(max+1, 10)
	s.profiles[id] = model.NewUserProfile(id, time.Now().UTC())
	return id, nil
}

// --- ConversationRepository ---

func (s *MemoryStore) Add(ctx context.Context, userID string, messages []model.Message) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:          nextID(s.conversations),
		UserID:      userID,
		Timestamp:   now,
		Messages:    append([]model.Message{}, messages...),
		LastUpdated: now,
	}
	s.conversations[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrConversationNotFound
	}
	cp := *conv
	cp.Messages = append([]model.Message{}, conv.Messages...)
	return &cp, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		cp := *conv
		cp.Messages = append([]model.Message{}, conv.Messages...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Last(ctx context.Context, userID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		if last == nil || conv.LastUpdated.After(last.LastUpdated) ||
			(conv.LastUpdated.Equal(last.LastUpdated) && conv.ID > last.ID) {
			last = conv
		}
	}
	if last == nil {
		return nil, model.ErrConversationNotFound
	}
	cp := *last
	cp.Messages = append([]model.Message{}, last.Messages...)
	return &cp, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, id int64, msg model.Message) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastUpdated = time.Now().UTC()
	cp := *conv
	cp.Messages = append([]model.Message{}, conv.Messages...)
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return model.ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}

// --- StoryRepository ---

func (s *MemoryStore) AddStory(ctx context.Context, story *model.Story) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *story
	cp.ID = nextID(s.stories)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.stories[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) GetStory(ctx context.Context, id int64) (*model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return nil, model.ErrStoryNotFound
	}
	cp := *story
	return &cp, nil
}

func (s *MemoryStore) AddUserStory(ctx context.Context, link *model.UserStory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *link
	cp.ID = nextID(s.userStories)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.userStories[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) LastUserStory(ctx context.Context, userID string) (*model.UserStory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.UserStory
	for _, link := range s.userStories {
		if link.UserID != userID {
			continue
		}
		if last == nil || link.ID > last.ID {
			last = link
		}
	}
	if last == nil {
		return nil, model.ErrStoryNotFound
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) AddEvaluation(ctx context.Context, eval *model.Evaluation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *eval
	cp.ID = nextID(s.evaluations)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.evaluations[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) ListEvaluations(ctx context.Context, userStoryID int64) ([]model.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Evaluation, 0)
	for _, eval := range s.evaluations {
		if eval.UserStoryID == userStoryID {
			out = append(out, *eval)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddFeedback(ctx context.Context, entry *model.FeedbackLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.ID = nextID(s.feedback)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.feedback[cp.ID] = &cp
	return cp.ID, nil
}
