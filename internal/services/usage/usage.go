package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"

	"gorm.io/gorm"
)

// Service persists per-attempt usage rows.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.RouteUsage{})
}

func (s *Service) RecordUsage(ctx context.Context, params models.RecordUsageParams) (*models.RouteUsage, error) {
	usage := models.RouteUsage{
		RequestID:    params.RequestID,
		SessionID:    params.SessionID,
		Provider:     params.Provider,
		Model:        params.Model,
		Outcome:      string(params.Outcome),
		TokensInput:  params.TokensInput,
		TokensOutput: params.TokensOutput,
		Cost:         params.Cost,
		LatencyMs:    params.Latency.Milliseconds(),
		ErrorMessage: params.ErrorMessage,
	}

	if err := s.db.WithContext(ctx).Create(&usage).Error; err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return &usage, nil
}

// ProviderStats aggregates recorded attempts for one provider.
type ProviderStats struct {
	Provider        string  `json:"provider"`
	TotalAttempts   int64   `json:"total_attempts"`
	SuccessAttempts int64   `json:"success_attempts"`
	TotalCost       float64 `json:"total_cost"`
	TotalTokens     int64   `json:"total_tokens"`
}

// StatsSince aggregates usage per provider from the given time.
func (s *Service) StatsSince(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	var stats []ProviderStats
	err := s.db.WithContext(ctx).
		Model(&models.RouteUsage{}).
		Select(`provider,
			COUNT(*) AS total_attempts,
			SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END) AS success_attempts,
			SUM(cost) AS total_cost,
			SUM(tokens_input + tokens_output) AS total_tokens`, string(models.AttemptSuccess)).
		Where("created_at >= ?", since).
		Group("provider").
		Order("provider").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return stats, nil
}
