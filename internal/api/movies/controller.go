package movies

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cineview/cineview/internal/library"
	"github.com/cineview/cineview/internal/movie"
	"github.com/labstack/echo/v4"
)

type (
	// MovieDto is the response shape used by the list, detail and search
	// endpoints.
	MovieDto struct {
		Id               int      `json:"id"`
		Adult            bool     `json:"adult"`
		Genres           []string `json:"genres"`
		OriginalLanguage string   `json:"original_language"`
		Title            string   `json:"title"`
		ReleaseDate      string   `json:"release_date"`
		Runtime          int      `json:"runtime"`
		VoteCount        int      `json:"vote_count"`
		Overview         string   `json:"overview"`
		VoteAverage      float64  `json:"vote_average"`
		Revenue          int64    `json:"revenue"`
		PosterPath       string   `json:"poster_path"`
		BackdropPath     string   `json:"backdrop_path"`
		Category         string   `json:"category"`
	}

	ReviewDto struct {
		Id      string `json:"id"`
		MovieId int    `json:"movie_id"`
		Author  string `json:"author"`
		Content string `json:"content"`
	}

	// Service is the slice of the library engine this controller consumes.
	Service interface {
		Movies(ctx context.Context, category string) (*library.Subscription, error)
		MovieDetails(ctx context.Context, movieId int) (<-chan *movie.Movie, error)
		SearchMovies(ctx context.Context, query string) (<-chan []movie.Movie, error)
		Reviews(ctx context.Context, movieId int) (<-chan []movie.Review, error)
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/search/", controller.search)
	eg.GET("/:id/", controller.get)
	eg.GET("/:id/reviews/", controller.getReviews)
}

// list serves the cached projection of the requested category and leaves the
// reconciliation it triggered running in the background; clients holding a
// websocket connection will be told when the refreshed rows land.
func (controller *Controller) list(ec echo.Context) error {
	category := ec.QueryParam("category")
	if category == "" {
		category = movie.CategoryPopular
	}

	sub, err := controller.service.Movies(ec.Request().Context(), category)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer sub.Cancel()

	return ec.JSON(http.StatusOK, MoviesToDtos(<-sub.Updates()))
}

// get waits for the detail query to settle so the response reflects the
// refreshed record when the remote was reachable, and the cached one when not.
func (controller *Controller) get(ec echo.Context) error {
	id, err := strconv.Atoi(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Movie ID is not a valid integer")
	}

	updates, err := controller.service.MovieDetails(ec.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var settled *movie.Movie
	for m := range updates {
		if m != nil {
			settled = m
		}
	}

	if settled == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, MovieToDto(*settled))
}

func (controller *Controller) search(ec echo.Context) error {
	query := ec.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing mandatory 'query' parameter")
	}

	updates, err := controller.service.SearchMovies(ec.Request().Context(), query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var settled []movie.Movie
	for results := range updates {
		settled = results
	}

	return ec.JSON(http.StatusOK, MoviesToDtos(settled))
}

func (controller *Controller) getReviews(ec echo.Context) error {
	id, err := strconv.Atoi(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Movie ID is not a valid integer")
	}

	updates, err := controller.service.Reviews(ec.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var settled []movie.Review
	for reviews := range updates {
		settled = reviews
	}

	dtos := make([]ReviewDto, len(settled))
	for k, v := range settled {
		dtos[k] = ReviewDto{
			Id:      v.ID.String(),
			MovieId: v.MovieID,
			Author:  v.Author,
			Content: v.Content,
		}
	}

	return ec.JSON(http.StatusOK, dtos)
}

func MovieToDto(m movie.Movie) MovieDto {
	return MovieDto{
		Id:               m.ID,
		Adult:            m.Adult,
		Genres:           m.Genres,
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

func MoviesToDtos(models []movie.Movie) []MovieDto {
	dtos := make([]MovieDto, len(models))
	for k, v := range models {
		dtos[k] = MovieToDto(v)
	}

	return dtos
}
