package utility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/chargeplan/pkg/common"
	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/types"
)

const pjmProvider = "pjm_day_ahead"

type pjmCacheKey struct {
	pnodeID string
	day     string
}

// BasePJM fetches day-ahead hourly LMPs from PJM Data Miner 2. It is shared by
// every site and caches each pnode's day since day-ahead prices do not change
// once published.
type BasePJM struct {
	apiURL string
	apiKey string
	client *http.Client

	mu    sync.Mutex
	cache map[pjmCacheKey][]types.Price
}

// configuredPJM sets up flags for PJM and returns the instance.
func configuredPJM() *BasePJM {
	b := newBasePJM("", "")
	apiURL := lflag.String("pjm-api-url", "https://api.pjm.com/api/v1/da_hrl_lmps", "URL for the PJM API")
	apiKey := lflag.String("pjm-api-key", "", "API Key for PJM Data Miner 2")

	lflag.Do(func() {
		b.apiURL = *apiURL
		b.apiKey = *apiKey
	})

	return b
}

func newBasePJM(apiURL, apiKey string) *BasePJM {
	return &BasePJM{
		apiURL: apiURL,
		apiKey: apiKey,
		client: common.HTTPClient(10 * time.Second),
		cache:  make(map[pjmCacheKey][]types.Price),
	}
}

// Validate ensures the configuration is valid.
func (b *BasePJM) Validate() error {
	if b.apiURL == "" {
		return fmt.Errorf("pjm-api-url is required")
	}
	if _, err := url.Parse(b.apiURL); err != nil {
		return fmt.Errorf("failed to parse pjm url (%s): %w", b.apiURL, err)
	}
	return nil
}

type pjmItem struct {
	DatetimeBeginningEPT string  `json:"datetime_beginning_ept"`
	TotalLMPDA           float64 `json:"total_lmp_da"`
}

// DayAhead returns the day-ahead prices for the Eastern day containing day.
func (b *BasePJM) DayAhead(ctx context.Context, pnodeID string, day time.Time) ([]types.Price, error) {
	date := startOfDay(day, etLocation).Format("2006-01-02")
	key := pjmCacheKey{pnodeID: pnodeID, day: date}

	b.mu.Lock()
	cached, ok := b.cache[key]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	prices, err := b.fetchDayAhead(ctx, pnodeID, date)
	if err != nil {
		return nil, err
	}
	// an empty response means the day has not been published yet
	if len(prices) > 0 {
		b.mu.Lock()
		b.cache[key] = prices
		b.mu.Unlock()
	}
	return prices, nil
}

func (b *BasePJM) fetchDayAhead(ctx context.Context, pnodeID string, date string) ([]types.Price, error) {
	u, err := url.Parse(b.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pjm url (%s): %w", b.apiURL, err)
	}
	q := u.Query()
	q.Set("pnode_id", pnodeID)
	q.Set("datetime_beginning_ept", fmt.Sprintf("%s 00:00 to %s 23:59", date, date))
	q.Set("format", "json")
	q.Set("fields", "datetime_beginning_ept,total_lmp_da")
	// download true removes the metadata and returns only the data
	q.Set("download", "true")
	q.Set("startRow", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if b.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", b.apiKey)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetching pjm prices",
		slog.String("url", u.String()),
		slog.String("pnodeID", pnodeID),
	)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pjm api status: %d", resp.StatusCode)
	}

	var res []pjmItem
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode pjm response: %w", err)
	}

	prices := make([]types.Price, 0, len(res))
	for _, item := range res {
		t, err := time.ParseInLocation("2006-01-02T15:04:05", item.DatetimeBeginningEPT, etLocation)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse pjm time", slog.String("time", item.DatetimeBeginningEPT), slog.Any("error", err))
			continue
		}
		t = t.Truncate(time.Hour)

		prices = append(prices, types.Price{
			Provider:      pjmProvider,
			TSStart:       t,
			TSEnd:         t.Add(time.Hour),
			DollarsPerKWH: item.TotalLMPDA / 1000.0,
		})
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched pjm prices",
		slog.Int("count", len(prices)),
		slog.String("pnodeID", pnodeID),
		slog.String("date", date),
	)
	return prices, nil
}

// SitePJM is a site's view of the PJM prices for its pnode.
type SitePJM struct {
	base   *BasePJM
	siteID string

	mu      sync.Mutex
	pnodeID string
}

// ApplySettings selects the pnode for the site.
func (s *SitePJM) ApplySettings(ctx context.Context, settings types.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnodeID = settings.PricePNodeID
	if s.pnodeID == "" {
		s.pnodeID = types.DefaultPJMPNodeID
	}
	return nil
}

// HourlySeries returns the day-ahead price of each Eastern wall-clock hour of
// the day. On a spring-forward day the skipped hour repeats the hour before
// it and on a fall-back day the first occurrence of the repeated hour wins.
func (s *SitePJM) HourlySeries(ctx context.Context, day time.Time) (types.HourlySeries, error) {
	s.mu.Lock()
	pnodeID := s.pnodeID
	s.mu.Unlock()

	prices, err := s.base.DayAhead(ctx, pnodeID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get pjm prices: %w", err)
	}
	return seriesFromPrices(prices, startOfDay(day, etLocation))
}

// seriesFromPrices buckets prices by the wall-clock hour of start's day.
func seriesFromPrices(prices []types.Price, start time.Time) (types.HourlySeries, error) {
	loc := start.Location()
	var filled [24]bool
	series := make(types.HourlySeries, 24)
	for _, p := range prices {
		t := p.TSStart.In(loc)
		if t.Year() != start.Year() || t.YearDay() != start.YearDay() {
			continue
		}
		h := t.Hour()
		if filled[h] {
			continue
		}
		series[h] = p.DollarsPerKWH
		filled[h] = true
	}

	missing := 0
	for h := range series {
		if filled[h] {
			continue
		}
		missing++
		if h == 0 {
			return nil, fmt.Errorf("no price for %s hour 0", start.Format("2006-01-02"))
		}
		series[h] = series[h-1]
	}
	// only a DST gap may be filled
	if missing > 1 {
		return nil, fmt.Errorf("missing %d hourly prices for %s", missing, start.Format("2006-01-02"))
	}
	return series, nil
}
