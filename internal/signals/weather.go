// Package signals gathers the readings the risk evaluator looks at: Hong Kong
// Observatory weather and wearable vitals received over MQTT.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultWeatherURL     = "https://data.weather.gov.hk/weatherAPI/opendata/weather.php"
	defaultWeatherTimeout = 5 * time.Second
	observatoryPlace      = "Hong Kong Observatory"
)

// Weather is one observation. Nil fields were not available.
type Weather struct {
	TemperatureC *float64 `json:"temperature"`
	HumidityPct  *float64 `json:"humidity"`
	Warnings     []string `json:"warnings"`
}

// WeatherClient reads the HKO open data API.
type WeatherClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWeatherClient creates a client for baseURL (DefaultWeatherURL when
// empty). A non-positive timeout uses 5s.
func NewWeatherClient(baseURL string, timeout time.Duration) *WeatherClient {
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	if timeout <= 0 {
		timeout = defaultWeatherTimeout
	}
	return &WeatherClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rhrread struct {
	Temperature struct {
		Data []placeValue `json:"data"`
	} `json:"temperature"`
	Humidity struct {
		Data []placeValue `json:"data"`
	} `json:"humidity"`
}

type placeValue struct {
	Place string          `json:"place"`
	Value json.RawMessage `json:"value"`
}

// Current fetches the regional readings and the warning summary. Whatever
// could be read is returned even when err is non-nil.
func (c *WeatherClient) Current(ctx context.Context) (Weather, error) {
	w := Weather{Warnings: []string{}}
	var errs []error

	var rr rhrread
	if err := c.get(ctx, url.Values{"dataType": {"rhrread"}, "lang": {"en"}}, &rr); err != nil {
		errs = append(errs, fmt.Errorf("reading current weather: %w", err))
	} else {
		w.TemperatureC = temperature(rr.Temperature.Data)
		if len(rr.Humidity.Data) > 0 {
			w.HumidityPct = number(rr.Humidity.Data[0].Value)
		}
	}

	var warnsum map[string]struct {
		Code string `json:"code"`
	}
	if err := c.get(ctx, url.Values{"dataType": {"warnsum"}, "lang": {"en"}}, &warnsum); err != nil {
		errs = append(errs, fmt.Errorf("reading warning summary: %w", err))
	} else {
		for _, info := range warnsum {
			if info.Code != "" {
				w.Warnings = append(w.Warnings, info.Code)
			}
		}
		slices.Sort(w.Warnings)
	}

	return w, errors.Join(errs...)
}

// temperature prefers the Observatory station and falls back to the first.
func temperature(data []placeValue) *float64 {
	if len(data) == 0 {
		return nil
	}
	pick := data[0]
	for _, d := range data {
		if d.Place == observatoryPlace {
			pick = d
			break
		}
	}
	return number(pick.Value)
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

func (c *WeatherClient) get(ctx context.Context, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
