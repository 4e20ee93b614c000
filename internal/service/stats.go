package service

import (
	"context"

	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
)

const statsTopTags = 5

// Stats aggregates the account's rewrite history.
func (s *RewriteService) Stats(ctx context.Context, accountID string) (*model.RewriteStats, error) {
	stats, err := s.rewriteRepo.Stats(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if stats == nil {
		stats = &model.RewriteStats{}
	}

	tags, err := s.rewriteRepo.TopTags(ctx, accountID, statsTopTags)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tags == nil {
		tags = []model.TagCount{}
	}
	stats.TopTags = tags

	return stats, nil
}
