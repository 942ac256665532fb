package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyteller-server/pkg/ai"
)

// Mock ai.Client
type AIClient struct {
	mock.Mock
}

func (m *AIClient) GenerateText(ctx context.Context, systemPrompt string, userInput string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	args := m.Called(ctx, systemPrompt, userInput, params)
	usage, _ := args.Get(1).(ai.UsageInfo)
	return args.String(0), usage, args.Error(2)
}
