package movie

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/cineview/cineview/internal/database"
	"github.com/jmoiron/sqlx"
)

var ErrMovieNotFound = errors.New("movie does not exist")

type (
	// movieModel is the movies table representation of a Movie. It differs
	// from the public struct only in the genre list, which is persisted as
	// a JSON-encoded TEXT column. We use a separate struct as part of the
	// public API of this store to hide the use of the JsonColumn container.
	movieModel struct {
		ID               int                             `db:"id"`
		Adult            bool                            `db:"adult"`
		Genres           database.JsonColumn[[]string]   `db:"genres"`
		OriginalLanguage string                          `db:"original_language"`
		Title            string                          `db:"title"`
		ReleaseDate      string                          `db:"release_date"`
		Runtime          int                             `db:"runtime"`
		VoteCount        int                             `db:"vote_count"`
		Overview         string                          `db:"overview"`
		VoteAverage      float64                         `db:"vote_average"`
		Revenue          int64                           `db:"revenue"`
		PosterPath       string                          `db:"poster_path"`
		BackdropPath     string                          `db:"backdrop_path"`
		Category         string                          `db:"category"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// UpsertAll insert-or-replaces the provided movies by their remote identifier.
// Callers needing all-or-nothing semantics across the batch must provide a
// transaction; every write path in the library service does so via WrapTx.
func (store *Store) UpsertAll(db database.Queryable, movies []Movie) error {
	for _, m := range movies {
		if _, err := db.NamedExec(`
			INSERT INTO movies(id, adult, genres, original_language, title, release_date, runtime, vote_count, overview, vote_average, revenue, poster_path, backdrop_path, category)
			VALUES(:id, :adult, :genres, :original_language, :title, :release_date, :runtime, :vote_count, :overview, :vote_average, :revenue, :poster_path, :backdrop_path, :category)
			ON CONFLICT(id) DO UPDATE SET
				adult=excluded.adult, genres=excluded.genres, original_language=excluded.original_language,
				title=excluded.title, release_date=excluded.release_date, runtime=excluded.runtime,
				vote_count=excluded.vote_count, overview=excluded.overview, vote_average=excluded.vote_average,
				revenue=excluded.revenue, poster_path=excluded.poster_path, backdrop_path=excluded.backdrop_path,
				category=excluded.category
		`, movieToModel(&m)); err != nil {
			return fmt.Errorf("failed to upsert movie %d: %w", m.ID, err)
		}
	}

	return nil
}

// GetByCategory returns the cached rows tagged with the provided category,
// ordered by vote average descending. Tie ordering is unspecified.
func (store *Store) GetByCategory(db database.Queryable, category string) ([]Movie, error) {
	query, args, err := selectMovieBuilder().
		Where(squirrel.Eq{"category": category}).
		OrderBy("vote_average DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select movies query: %w", err)
	}

	return store.selectMovies(db, query, args...)
}

func (store *Store) GetAll(db database.Queryable) ([]Movie, error) {
	query, args, err := selectMovieBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select movies query: %w", err)
	}

	return store.selectMovies(db, query, args...)
}

func (store *Store) GetByID(db database.Queryable, id int) (*Movie, error) {
	query, args, err := selectMovieBuilder().Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select movie query: %w", err)
	}

	var model movieModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}

		return nil, err
	}

	result := movieModelToMovie(&model)
	return &result, nil
}

// GetByIDs returns the rows whose identifiers appear in the provided set.
// Identifiers with no matching row are silently omitted. Rows are ordered by
// vote average descending to match the category projections.
func (store *Store) GetByIDs(db database.Queryable, ids []int) ([]Movie, error) {
	if len(ids) == 0 {
		return []Movie{}, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM movies WHERE id IN (?) ORDER BY vote_average DESC`, ids)
	if err != nil {
		return nil, err
	}

	return store.selectMovies(db, db.Rebind(query), args...)
}

// DeleteByCategoryExcept evicts every row tagged with the provided category
// whose identifier is NOT in keepIDs. This is the sole eviction policy used
// during a category refresh: rows from other categories are untouched, and
// favourited rows survive even when absent from the fresh result set.
func (store *Store) DeleteByCategoryExcept(db database.Queryable, category string, keepIDs []int) error {
	if len(keepIDs) == 0 {
		_, err := db.Exec(`DELETE FROM movies WHERE category = ?`, category)
		return err
	}

	return database.InExec(db, `DELETE FROM movies WHERE category = ? AND id NOT IN (?)`, category, keepIDs)
}

func (store *Store) DeleteByCategory(db database.Queryable, category string) error {
	_, err := db.Exec(`DELETE FROM movies WHERE category = ?`, category)
	return err
}

func (store *Store) DeleteAll(db database.Queryable) error {
	_, err := db.Exec(`DELETE FROM movies`)
	return err
}

func (store *Store) selectMovies(db database.Queryable, query string, args ...interface{}) ([]Movie, error) {
	var models []movieModel
	if err := db.Select(&models, query, args...); err != nil {
		return nil, err
	}

	output := make([]Movie, len(models))
	for k := range models {
		output[k] = movieModelToMovie(&models[k])
	}

	return output, nil
}

func selectMovieBuilder() squirrel.SelectBuilder {
	return squirrel.Select("*").From("movies")
}

func movieToModel(m *Movie) *movieModel {
	genres := m.Genres
	if genres == nil {
		genres = []string{}
	}

	return &movieModel{
		ID:               m.ID,
		Adult:            m.Adult,
		Genres:           database.NewJsonColumn(genres),
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
		Category:         m.Category,
	}
}

func movieModelToMovie(model *movieModel) Movie {
	genres := []string{}
	if g := model.Genres.Get(); g != nil {
		genres = *g
	}

	return Movie{
		ID:               model.ID,
		Adult:            model.Adult,
		Genres:           genres,
		OriginalLanguage: model.OriginalLanguage,
		Title:            model.Title,
		ReleaseDate:      model.ReleaseDate,
		Runtime:          model.Runtime,
		VoteCount:        model.VoteCount,
		Overview:         model.Overview,
		VoteAverage:      model.VoteAverage,
		Revenue:          model.Revenue,
		PosterPath:       model.PosterPath,
		BackdropPath:     model.BackdropPath,
		Category:         model.Category,
	}
}
