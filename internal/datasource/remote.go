package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
)

const remoteSourceName = "remote"

// remoteDateLayout is the day format of range query parameters
const remoteDateLayout = "2006-01-02"

// RemoteSource reads races and results from an HTTP race archive.
//
//	GET {base}/races?from=YYYY-MM-DD&to=YYYY-MM-DD&track=..&race_type=..  -> []RaceContext
//	GET {base}/results/{race_id}                                           -> RaceResult
type RemoteSource struct {
	baseURL    string
	httpClient *RateLimitedHTTPClient
	logger     *logrus.Entry
}

// NewRemoteSource creates a source for the archive at baseURL
func NewRemoteSource(baseURL string, httpClient *RateLimitedHTTPClient, log *logrus.Logger) (*RemoteSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("HTTP client is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &RemoteSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log.WithFields(logrus.Fields{"component": "datasource", "source": remoteSourceName}),
	}, nil
}

// GetRaces fetches the races of a date range
func (s *RemoteSource) GetRaces(ctx context.Context, dr models.DateRange, filters backtest.RaceFilters) ([]models.RaceContext, error) {
	query := url.Values{}
	query.Set("from", dr.From.UTC().Format(remoteDateLayout))
	query.Set("to", dr.To.UTC().Format(remoteDateLayout))
	for _, track := range filters.Tracks {
		query.Add("track", track)
	}
	for _, raceType := range filters.RaceTypes {
		query.Add("race_type", raceType)
	}

	var races []models.RaceContext
	if err := s.getJSON(ctx, s.baseURL+"/races?"+query.Encode(), &races); err != nil {
		return nil, err
	}

	// The archive filters by day; apply the same filters locally so every
	// source returns identical race sets
	out := races[:0]
	for _, race := range races {
		if dr.Contains(race.Date) && matchesAny(race.Track, filters.Tracks) && matchesAny(race.RaceType, filters.RaceTypes) {
			out = append(out, race)
		}
	}
	s.logger.WithFields(logrus.Fields{"range": dr.String(), "races": len(out)}).Debug("Fetched races")
	return out, nil
}

// GetResult fetches the official result of a race
func (s *RemoteSource) GetResult(ctx context.Context, raceID string) (*models.RaceResult, error) {
	var result models.RaceResult
	if err := s.getJSON(ctx, s.baseURL+"/results/"+url.PathEscape(raceID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *RemoteSource) getJSON(ctx context.Context, target string, v interface{}) error {
	resp, err := s.httpClient.Get(ctx, target)
	if err != nil {
		return NewDataSourceError(remoteSourceName, ErrCodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", target, models.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewDataSourceError(remoteSourceName, ErrCodeRateLimitExceeded, "archive rate limit", ErrRateLimitExceeded)
	case resp.StatusCode >= 500:
		return NewDataSourceError(remoteSourceName, ErrCodeServerError, fmt.Sprintf("archive returned %d", resp.StatusCode), ErrServerError)
	case resp.StatusCode != http.StatusOK:
		return NewDataSourceError(remoteSourceName, ErrCodeUnknown, fmt.Sprintf("archive returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewDataSourceError(remoteSourceName, ErrCodeNetworkError, "failed to read response", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return NewDataSourceError(remoteSourceName, ErrCodeInvalidData, "failed to decode response", err)
	}
	return nil
}
