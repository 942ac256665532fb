package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_story_requests_total",
			Help: "Total number of story requests by resulting status.",
		},
		[]string{"status"},
	)

	intentClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_intent_classifications_total",
			Help: "Total number of intent classifications by intent type.",
		},
		[]string{"intent"},
	)

	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_ai_requests_total",
			Help: "Total number of AI gateway calls by agent and status.",
		},
		[]string{"agent", "status"},
	)

	aiTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_ai_tokens_total",
			Help: "Total number of tokens consumed by AI calls, by agent and kind.",
		},
		[]string{"agent", "kind"},
	)

	regenerationIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyteller_regeneration_iterations",
		Help:    "Number of judge evaluations performed per story request.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	acceptedStoryScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyteller_accepted_story_score",
		Help:    "Judge score of the story finally returned to the caller.",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})
)

// observeAIUsage записывает метрики одного обращения к шлюзу
func observeAIUsage(agent string, promptTokens, completionTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	aiRequestsTotal.WithLabelValues(agent, status).Inc()
	if promptTokens > 0 {
		aiTokensTotal.WithLabelValues(agent, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		aiTokensTotal.WithLabelValues(agent, "completion").Add(float64(completionTokens))
	}
}
