package search

import (
	"strings"

	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/internal/models"
)

// ProcessQuery trims the query text and applies the configured limits.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	query.Query = strings.TrimSpace(query.Query)
	query.Category = strings.TrimSpace(query.Category)
	return query.Validate(cfg.DefaultLimit, cfg.MaxLimit)
}
