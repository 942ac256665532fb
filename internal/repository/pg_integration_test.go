//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/migrations"
	"storyteller-server/pkg/migration"
)

// PgRepositorySuite поднимает PostgreSQL в контейнере и гоняет
// репозитории против настоящей схемы.
type PgRepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	logger      *zap.Logger

	profiles      repository.ProfileRepository
	conversations repository.ConversationRepository
	stories       repository.StoryRepository
}

func (s *PgRepositorySuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err)

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("storyteller_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err)

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.Files,
	}, s.pool)
	require.NoError(s.T(), migrator.Up(s.ctx), "Failed to apply migrations")

	s.profiles = repository.NewPgProfileRepository(s.pool, s.logger)
	s.conversations = repository.NewPgConversationRepository(s.pool, s.logger)
	s.stories = repository.NewPgStoryRepository(s.pool, s.logger)
}

func (s *PgRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *PgRepositorySuite) TestProfileRoundTrip() {
	profile := model.NewUserProfile("101", time.Now().UTC())
	age := 7
	profile.Age = &age
	profile.Preferences.FavoriteThemes = []string{"space", "dinosaurs"}

	s.Require().NoError(s.profiles.Save(s.ctx, profile))

	got, err := s.profiles.Get(s.ctx, "101")
	s.Require().NoError(err)
	s.Require().NotNil(got.Age)
	s.Equal(7, *got.Age)
	s.Equal([]string{"space", "dinosaurs"}, got.Preferences.FavoriteThemes)

	_, err = s.profiles.Get(s.ctx, "does-not-exist")
	s.ErrorIs(err, model.ErrProfileNotFound)
}

func (s *PgRepositorySuite) TestNextUserIDSkipsNonNumeric() {
	s.Require().NoError(s.profiles.Save(s.ctx, model.NewUserProfile("205", time.Now().UTC())))
	s.Require().NoError(s.profiles.Save(s.ctx, model.NewUserProfile("guest-xyz", time.Now().UTC())))

	next, err := s.profiles.NextUserID(s.ctx)
	s.Require().NoError(err)
	s.Equal("206", next)

	// выданный id зарезервирован строкой профиля
	_, err = s.profiles.Get(s.ctx, "206")
	s.Require().NoError(err)
}

// Резервация в транзакции выдачи не дает двум запросам увидеть
// один и тот же максимум.
func (s *PgRepositorySuite) TestConcurrentNextUserIDs() {
	const n = 8
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := s.profiles.NextUserID(s.ctx)
			s.NoError(err)
			ids <- id
		}()
	}
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		s.False(seen[id], "duplicate user id %s", id)
		seen[id] = true
	}
}

func (s *PgRepositorySuite) TestConversationAppendAndLast() {
	conv, err := s.conversations.Add(s.ctx, "301", []model.Message{
		{Role: model.RoleUser, Content: "tell me a story about a dragon"},
	})
	s.Require().NoError(err)

	updated, err := s.conversations.AppendMessage(s.ctx, conv.ID, model.Message{
		Role:    model.RoleAgent,
		Content: "Once upon a time...",
		Status:  model.StatusSuccess,
	})
	s.Require().NoError(err)
	s.Len(updated.Messages, 2)

	last, err := s.conversations.Last(s.ctx, "301")
	s.Require().NoError(err)
	s.Equal(conv.ID, last.ID)
	s.Require().NotNil(last.LastAgentMessage())
	s.Equal(model.StatusSuccess, last.LastAgentMessage().Status)
}

// Конкурентные вставки сериализуются advisory-блокировкой,
// дубликатов ID быть не должно.
func (s *PgRepositorySuite) TestConcurrentConversationIDs() {
	const n = 16
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			conv, err := s.conversations.Add(s.ctx, "401", nil)
			s.NoError(err)
			ids <- conv.ID
		}()
	}
	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		s.False(seen[id], "duplicate conversation id %d", id)
		seen[id] = true
	}
}

func (s *PgRepositorySuite) TestStoryEvaluationChain() {
	storyID, err := s.stories.AddStory(s.ctx, &model.Story{
		Prompt: "a story about a brave turtle",
		Story:  "Shelly the turtle...",
		Metadata: model.StoryMetadata{
			Length: 120, Complexity: 0.4, Theme: "courage", Moral: "be brave",
		},
	})
	s.Require().NoError(err)

	got, err := s.stories.GetStory(s.ctx, storyID)
	s.Require().NoError(err)
	s.Equal("courage", got.Metadata.Theme)

	usID, err := s.stories.AddUserStory(s.ctx, &model.UserStory{
		UserID:  "501",
		StoryID: storyID,
		Prompt:  "a story about a brave turtle",
		Intent:  model.IntentNewStory,
	})
	s.Require().NoError(err)

	evalID, err := s.stories.AddEvaluation(s.ctx, &model.Evaluation{
		UserStoryID:   usID,
		Score:         6,
		IsAppropriate: true,
		Reason:        "age-appropriate",
		Feedback:      "pacing is slow",
	})
	s.Require().NoError(err)

	_, err = s.stories.AddFeedback(s.ctx, &model.FeedbackLogEntry{
		EvaluationID: evalID,
		Message:      "Tighten the middle of the story.",
	})
	s.Require().NoError(err)

	evals, err := s.stories.ListEvaluations(s.ctx, usID)
	s.Require().NoError(err)
	s.Require().Len(evals, 1)
	s.Equal(6, evals[0].Score)
}

func TestPgRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PgRepositorySuite))
}
