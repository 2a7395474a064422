package movie

import (
	"github.com/google/uuid"
)

// The categories a cached movie row can be tagged with. The first four mirror
// the remote catalogue's list endpoints; "search" holds the latest search
// result set and "favorites" tags rows that were fetched solely because they
// are favourited.
const (
	CategoryPopular    = "popular"
	CategoryTopRated   = "top_rated"
	CategoryNowPlaying = "now_playing"
	CategoryUpcoming   = "upcoming"
	CategorySearch     = "search"
	CategoryFavorites  = "favorites"
)

// ListCategories are the categories that map directly to a remote list
// endpoint and may be requested through the library service.
var ListCategories = []string{CategoryPopular, CategoryTopRated, CategoryNowPlaying, CategoryUpcoming}

func IsListCategory(category string) bool {
	for _, c := range ListCategories {
		if c == category {
			return true
		}
	}

	return false
}

type (
	// Movie is the public API for a cached catalogue entry. The ID is the
	// remote catalogue's identifier and is stable across refreshes.
	Movie struct {
		ID               int      `json:"id"`
		Adult            bool     `json:"adult"`
		Genres           []string `json:"genres"`
		OriginalLanguage string   `json:"originalLanguage"`
		Title            string   `json:"title"`
		ReleaseDate      string   `json:"releaseDate"`
		Runtime          int      `json:"runtime"`
		VoteCount        int      `json:"voteCount"`
		Overview         string   `json:"overview"`
		VoteAverage      float64  `json:"voteAverage"`
		Revenue          int64    `json:"revenue"`
		PosterPath       string   `json:"posterPath"`
		BackdropPath     string   `json:"backdropPath"`
		Category         string   `json:"category"`
	}

	// Review is a free-text sub-record owned by exactly one movie. The row
	// id is generated locally as reviews are replaced wholesale on every
	// successful fetch and have no stable remote identity we rely on.
	Review struct {
		ID      uuid.UUID `db:"id" json:"id"`
		MovieID int       `db:"movie_id" json:"movieId"`
		Author  string    `db:"author" json:"author"`
		Content string    `db:"content" json:"content"`
	}
)

// NewReview constructs a review row for the given parent movie with a freshly
// generated local identifier.
func NewReview(movieID int, author string, content string) Review {
	return Review{ID: uuid.New(), MovieID: movieID, Author: author, Content: content}
}
