package tmdb

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	tmdbBaseUrl = "https://api.themoviedb.org/3"

	tmdbListTemplate       = "%s/movie/%s?api_key=%s&page=%d"
	tmdbGetMovieTemplate   = "%s/movie/%d?api_key=%s"
	tmdbGetReviewsTemplate = "%s/movie/%d/reviews?api_key=%s&page=%d"
	tmdbSearchTemplate     = "%s/search/movie?query=%s&api_key=%s&page=%d"

	defaultRequestTimeout = time.Second * 10
)

type (
	Config struct {
		ApiKey string `yaml:"api_key" env:"TMDB_API_KEY" validate:"required"`

		// BaseUrl overrides the production API host; used by tests.
		BaseUrl string `yaml:"base_url" env:"TMDB_BASE_URL"`
	}

	Genre struct {
		Id   json.Number `json:"id"`
		Name string      `json:"name"`
	}

	// Movie is the remote representation of one catalogue entry. Optional
	// fields carry zero values when the remote omits them; list endpoints
	// omit runtime/revenue/genres entirely, so only the detail endpoint
	// populates everything.
	Movie struct {
		Id               int     `json:"id"`
		Adult            bool    `json:"adult"`
		Genres           []Genre `json:"genres"`
		OriginalLanguage string  `json:"original_language"`
		Title            string  `json:"title"`
		ReleaseDate      string  `json:"release_date"`
		Runtime          int     `json:"runtime"`
		VoteCount        int     `json:"vote_count"`
		Overview         string  `json:"overview"`
		VoteAverage      float64 `json:"vote_average"`
		Revenue          int64   `json:"revenue"`
		PosterPath       string  `json:"poster_path"`
		BackdropPath     string  `json:"backdrop_path"`
	}

	Review struct {
		Id      string `json:"id"`
		Author  string `json:"author"`
		Content string `json:"content"`
	}

	MovieResponse struct {
		Page         int     `json:"page"`
		Results      []Movie `json:"results"`
		TotalPages   int     `json:"total_pages"`
		TotalResults int     `json:"total_results"`
	}

	ReviewResponse struct {
		Page         int      `json:"page"`
		Results      []Review `json:"results"`
		TotalPages   int      `json:"total_pages"`
		TotalResults int      `json:"total_results"`
	}

	// tmdbClient is the stateless accessor for the remote catalogue used by
	// the library service. Every call attaches the configured API key and
	// may fail; the caller decides what failure means.
	// See https://developer.themoviedb.org/reference/intro/getting-started
	// for information on the TMDB API.
	tmdbClient struct {
		config Config
		client *http.Client
	}
)

func NewClient(config Config) *tmdbClient {
	return &tmdbClient{config, &http.Client{Timeout: defaultRequestTimeout}}
}

func (client *tmdbClient) baseUrl() string {
	if client.config.BaseUrl != "" {
		return client.config.BaseUrl
	}

	return tmdbBaseUrl
}

// ListByCategory queries the list endpoint matching the provided category
// ("popular", "top_rated", "now_playing" or "upcoming"). The category is
// interpolated directly in to the path; callers validate it against the known
// list categories first.
func (client *tmdbClient) ListByCategory(category string, page int) (*MovieResponse, error) {
	path := fmt.Sprintf(tmdbListTemplate, client.baseUrl(), category, client.config.ApiKey, page)
	var response MovieResponse
	if err := client.getJsonResponse(path, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetMovie will query the TMDB API for the movie with the provided ID. This ID
// must be a valid TMDB ID, or else an error will be returned.
func (client *tmdbClient) GetMovie(movieId int) (*Movie, error) {
	path := fmt.Sprintf(tmdbGetMovieTemplate, client.baseUrl(), movieId, client.config.ApiKey)
	var movie Movie
	if err := client.getJsonResponse(path, &movie); err != nil {
		return nil, err
	}

	return &movie, nil
}

// Search queries the free-text search endpoint. Ranking is whatever the
// remote decides; no local re-ordering is applied.
func (client *tmdbClient) Search(query string, page int) (*MovieResponse, error) {
	path := fmt.Sprintf(tmdbSearchTemplate, client.baseUrl(), url.QueryEscape(query), client.config.ApiKey, page)
	var response MovieResponse
	if err := client.getJsonResponse(path, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetReviews fetches a page of reviews for the provided movie ID.
func (client *tmdbClient) GetReviews(movieId int, page int) (*ReviewResponse, error) {
	path := fmt.Sprintf(tmdbGetReviewsTemplate, client.baseUrl(), movieId, client.config.ApiKey, page)
	var response ReviewResponse
	if err := client.getJsonResponse(path, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

func (client *tmdbClient) getJsonResponse(urlPath string, targetInterface interface{}) error {
	resp, err := client.client.Get(urlPath)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to perform GET to TMDB: %s", err.Error())}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var tmdbError tmdbError
		if err := json.Unmarshal(respBody, &tmdbError); err != nil {
			return &FailedRequestError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled", tmdbCode: -1}
		}

		return &FailedRequestError{httpCode: resp.StatusCode, message: tmdbError.StatusMessage, tmdbCode: tmdbError.StatusCode}
	}

	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	if err := json.Unmarshal(respBody, targetInterface); err != nil {
		return &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	return nil
}

type (
	tmdbError struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
	}
	FailedRequestError struct {
		httpCode int
		tmdbCode int
		message  string
	}
	UnknownRequestError struct{ reason string }
)

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with TMDB: %s", err.reason)
}
func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("Request failure (HTTP %d): %s", err.httpCode, err.message)
}
