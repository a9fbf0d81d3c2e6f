package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"genjobs/internal/infra"
	"genjobs/internal/sqlinline"
)

const (
	ProviderPrediction = "prediction"
)

// Store keeps provider API tokens in the integration_tokens table so they can
// be rotated without redeploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// PredictionToken returns the stored prediction provider token, or "" when unset.
func (s *Store) PredictionToken(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderPrediction)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetPredictionToken(ctx context.Context, token string) error {
	return s.SetToken(ctx, ProviderPrediction, token)
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.TrimSpace(provider)
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New(provider + " token is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, uuid.NewString(), provider, token)
	return err
}
