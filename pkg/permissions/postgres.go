package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements ProfileStore and PostStore over the profiles and posts tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetProfile loads the subscription fields for userID
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT id, is_premium, premium_expires_at, premium_since
		FROM profiles
		WHERE id = $1
	`

	var (
		p         Profile
		expiresAt sql.NullTime
		since     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &p.IsPremium, &expiresAt, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}

	p.PremiumExpiresAt = nullTimePtr(expiresAt)
	p.PremiumSince = nullTimePtr(since)
	return &p, nil
}

// GetPost loads the access-relevant fields of postID
func (s *PostgresStore) GetPost(ctx context.Context, postID string) (*Post, error) {
	query := `
		SELECT id, author_id, is_premium_content
		FROM posts
		WHERE id = $1
	`

	var p Post
	err := s.db.QueryRowContext(ctx, query, postID).Scan(&p.ID, &p.AuthorID, &p.IsPremiumContent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", postID, err)
	}
	return &p, nil
}

// GetPostWithAuthor loads postID joined with its author's subscription fields
func (s *PostgresStore) GetPostWithAuthor(ctx context.Context, postID string) (*PostWithAuthor, error) {
	query := `
		SELECT p.id, p.author_id, p.is_premium_content,
		       COALESCE(a.is_premium, FALSE), a.premium_expires_at
		FROM posts p
		LEFT JOIN profiles a ON a.id = p.author_id
		WHERE p.id = $1
	`

	var (
		p         PostWithAuthor
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, postID).Scan(
		&p.ID, &p.AuthorID, &p.IsPremiumContent, &p.AuthorIsPremium, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s with author: %w", postID, err)
	}

	p.AuthorPremiumExpiresAt = nullTimePtr(expiresAt)
	return &p, nil
}

// GetAuthorsPremium batch-loads subscription fields for authorIDs
func (s *PostgresStore) GetAuthorsPremium(ctx context.Context, authorIDs []string) (map[string]Profile, error) {
	result := make(map[string]Profile, len(authorIDs))
	if len(authorIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, is_premium, premium_expires_at, premium_since
		FROM profiles
		WHERE id = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(authorIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load author profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         Profile
			expiresAt sql.NullTime
			since     sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.IsPremium, &expiresAt, &since); err != nil {
			return nil, fmt.Errorf("failed to scan author profile: %w", err)
		}
		p.PremiumExpiresAt = nullTimePtr(expiresAt)
		p.PremiumSince = nullTimePtr(since)
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate author profiles: %w", err)
	}
	return result, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
