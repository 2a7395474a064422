package movie

import (
	"fmt"

	"github.com/cineview/cineview/internal/database"
)

// ReplaceReviews swaps out every cached review for the given movie with the
// provided set. The remote source is authoritative for reviews, so a partial
// merge is never wanted; callers run this inside a transaction so a failed
// insert cannot leave the movie with no reviews at all.
//
// The reviews table holds a foreign key to movies, so the parent row must
// already be cached; an insert against an unknown movie id fails the
// transaction.
func (store *Store) ReplaceReviews(db database.Queryable, movieID int, reviews []Review) error {
	if _, err := db.Exec(`DELETE FROM reviews WHERE movie_id = ?`, movieID); err != nil {
		return fmt.Errorf("failed to clear reviews for movie %d: %w", movieID, err)
	}

	for _, review := range reviews {
		if _, err := db.NamedExec(`
			INSERT INTO reviews(id, movie_id, author, content)
			VALUES(:id, :movie_id, :author, :content)
		`, review); err != nil {
			return fmt.Errorf("failed to insert review for movie %d: %w", movieID, err)
		}
	}

	return nil
}

func (store *Store) GetReviewsForMovie(db database.Queryable, movieID int) ([]Review, error) {
	reviews := []Review{}
	if err := db.Select(&reviews, `SELECT * FROM reviews WHERE movie_id = ?`, movieID); err != nil {
		return nil, err
	}

	return reviews, nil
}
