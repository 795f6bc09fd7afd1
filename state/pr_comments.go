package state

import (
	"context"
	"database/sql"
	"errors"
)

// GetPRComment returns the tracked report comment for a pull request.
func (s *Store) GetPRComment(ctx context.Context, repository string, prNumber int) (int64, bool, error) {
	var commentID int64
	err := s.db.QueryRowContext(ctx, `
SELECT comment_id
FROM pr_comments
WHERE repository = $1 AND pr_number = $2
`, repository, prNumber).Scan(&commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return commentID, true, nil
}

// SavePRComment records the report comment for a pull request.
func (s *Store) SavePRComment(ctx context.Context, repository string, prNumber int, commentID int64) error {
	if repository == "" || prNumber <= 0 || commentID <= 0 {
		return errors.New("repository, pr_number and comment_id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pr_comments (repository, pr_number, comment_id)
VALUES ($1, $2, $3)
ON CONFLICT (repository, pr_number)
DO UPDATE SET comment_id = EXCLUDED.comment_id,
              updated_at = NOW()
`, repository, prNumber, commentID)
	return err
}
