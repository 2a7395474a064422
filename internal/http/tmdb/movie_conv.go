package tmdb

import (
	"github.com/cineview/cineview/internal/movie"
)

// TmdbMovieToModel maps the remote representation on to a cache row, tagging
// it with the provided category. Optional remote fields have already defaulted
// during unmarshalling (runtime/revenue to 0, paths to "").
func TmdbMovieToModel(m *Movie, category string) movie.Movie {
	genres := make([]string, len(m.Genres))
	for k, v := range m.Genres {
		genres[k] = v.Name
	}

	return movie.Movie{
		ID:               m.Id,
		Adult:            m.Adult,
		Genres:           genres,
		OriginalLanguage: m.OriginalLanguage,
		Title:            m.Title,
		ReleaseDate:      m.ReleaseDate,
		Runtime:          m.Runtime,
		VoteCount:        m.VoteCount,
		Overview:         m.Overview,
		VoteAverage:      m.VoteAverage,
		Revenue:          m.Revenue,
		PosterPath:       m.PosterPath,
		BackdropPath:     m.BackdropPath,
		Category:         category,
	}
}

func TmdbMoviesToModels(results []Movie, category string) []movie.Movie {
	models := make([]movie.Movie, len(results))
	for k := range results {
		models[k] = TmdbMovieToModel(&results[k], category)
	}

	return models
}

// TmdbReviewToModel maps a remote review on to a local row owned by the
// provided movie. A fresh local id is generated; reviews are replaced
// wholesale per movie so remote review ids are not preserved.
func TmdbReviewToModel(r *Review, movieID int) movie.Review {
	return movie.NewReview(movieID, r.Author, r.Content)
}

func TmdbReviewsToModels(results []Review, movieID int) []movie.Review {
	models := make([]movie.Review, len(results))
	for k := range results {
		models[k] = TmdbReviewToModel(&results[k], movieID)
	}

	return models
}
