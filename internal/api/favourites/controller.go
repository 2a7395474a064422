package favourites

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cineview/cineview/internal/api/movies"
	"github.com/cineview/cineview/internal/library"
	"github.com/labstack/echo/v4"
)

type (
	Service interface {
		FavouriteMovies(ctx context.Context) (*library.Subscription, error)
		FavouriteIDs() ([]int, error)
		IsFavourite(movieId int) (bool, error)
		ToggleFavourite(movieId int) error
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
	eg.GET("/ids/", controller.listIds)
	eg.GET("/:id/", controller.get)
	eg.POST("/:id/toggle/", controller.toggle)
}

// list serves the cached aggregate of every favourited movie; any ids whose
// rows are missing locally are being fetched in the background by the time
// this response is written.
func (controller *Controller) list(ec echo.Context) error {
	sub, err := controller.service.FavouriteMovies(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer sub.Cancel()

	return ec.JSON(http.StatusOK, movies.MoviesToDtos(<-sub.Updates()))
}

func (controller *Controller) listIds(ec echo.Context) error {
	ids, err := controller.service.FavouriteIDs()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, map[string]any{"ids": ids})
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := strconv.Atoi(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Movie ID is not a valid integer")
	}

	favourited, err := controller.service.IsFavourite(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, map[string]any{"movie_id": id, "favourited": favourited})
}

func (controller *Controller) toggle(ec echo.Context) error {
	id, err := strconv.Atoi(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Movie ID is not a valid integer")
	}

	if err := controller.service.ToggleFavourite(id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	favourited, err := controller.service.IsFavourite(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, map[string]any{"movie_id": id, "favourited": favourited})
}
