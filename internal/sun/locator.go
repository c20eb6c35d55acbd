// Package sun resolves the lamp's geographic coordinates and computes
// local sunrise/sunset instants for schedule evaluation.
//
// Coordinates come from a prioritized list of capability-equivalent IP
// geolocation providers behind one interface, with a system-timezone
// coordinate table as the last heuristic and a fixed fallback when
// everything fails.
package sun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const userAgent = "lampd/1.0"

// FallbackCoordinates is used when no provider and no heuristic
// succeeds (Budapest).
var FallbackCoordinates = Coordinates{Lat: 47.4338, Lon: 19.1931}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Provider resolves coordinates from one external service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, client *http.Client) (Coordinates, error)
}

// HTTPProvider is a JSON-over-HTTP geolocation service. Only the
// response schema differs between services, so each one is the same
// struct with its own parse function.
type HTTPProvider struct {
	ProviderName string
	URL          string
	Parse        func(body []byte) (Coordinates, error)
}

func (p HTTPProvider) Name() string { return p.ProviderName }

func (p HTTPProvider) Fetch(ctx context.Context, client *http.Client) (Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Coordinates{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return Coordinates{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("%s returned status %d", p.ProviderName, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinates{}, err
	}
	return p.Parse(body)
}

// DefaultProviders returns the provider chain in priority order.
func DefaultProviders() []Provider {
	return []Provider{
		HTTPProvider{"ip-api.com", "http://ip-api.com/json/", parseIPAPI},
		HTTPProvider{"ipinfo.io", "https://ipinfo.io/json", parseIPInfo},
		HTTPProvider{"ipwho.is", "https://ipwho.is/", parseIPWhois},
		HTTPProvider{"ipapi.co", "https://ipapi.co/json/", parseIPAPICo},
		HTTPProvider{"geolocation-db.com", "https://geolocation-db.com/json/", parseGeolocationDB},
	}
}

func parseIPAPI(body []byte) (Coordinates, error) {
	var data struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Coordinates{}, err
	}
	if data.Status != "success" {
		return Coordinates{}, fmt.Errorf("lookup failed: %s", data.Message)
	}
	return Coordinates{Lat: data.Lat, Lon: data.Lon}, nil
}

func parseIPInfo(body []byte) (Coordinates, error) {
	var data struct {
		Loc string `json:"loc"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Coordinates{}, err
	}
	parts := strings.Split(data.Loc, ",")
	if len(parts) != 2 {
		return Coordinates{}, errors.New("loc missing")
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Coordinates{}, err
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Coordinates{}, err
	}
	return Coordinates{Lat: lat, Lon: lon}, nil
}

func parseIPWhois(body []byte) (Coordinates, error) {
	var data struct {
		Success bool    `json:"success"`
		Message string  `json:"message"`
		Lat     float64 `json:"latitude"`
		Lon     float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Coordinates{}, err
	}
	if !data.Success {
		return Coordinates{}, fmt.Errorf("lookup failed: %s", data.Message)
	}
	return Coordinates{Lat: data.Lat, Lon: data.Lon}, nil
}

func parseIPAPICo(body []byte) (Coordinates, error) {
	var data struct {
		Lat *float64 `json:"latitude"`
		Lon *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Coordinates{}, err
	}
	if data.Lat == nil || data.Lon == nil {
		return Coordinates{}, errors.New("latitude/longitude missing")
	}
	return Coordinates{Lat: *data.Lat, Lon: *data.Lon}, nil
}

func parseGeolocationDB(body []byte) (Coordinates, error) {
	// This service reports numbers, or the string "Not found".
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return Coordinates{}, err
	}
	lat, err := coerceFloat(data["latitude"])
	if err != nil {
		return Coordinates{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := coerceFloat(data["longitude"])
	if err != nil {
		return Coordinates{}, fmt.Errorf("longitude: %w", err)
	}
	return Coordinates{Lat: lat, Lon: lon}, nil
}

func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, errors.New("missing")
	}
}

// Locator resolves coordinates through the provider chain.
type Locator struct {
	providers []Provider
	client    *http.Client
	timeout   time.Duration
	fallback  Coordinates
}

// NewLocator builds a locator over the given providers. A zero timeout
// defaults to 5s per provider.
func NewLocator(timeout time.Duration, providers ...Provider) *Locator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	return &Locator{
		providers: providers,
		client:    &http.Client{},
		timeout:   timeout,
		fallback:  FallbackCoordinates,
	}
}

// Coordinates tries each provider in order, then the system-timezone
// heuristic. located is false only when the fixed fallback had to be
// used, so callers can tell a real position from a guess.
func (l *Locator) Coordinates(ctx context.Context) (coords Coordinates, located bool) {
	for _, p := range l.providers {
		pctx, cancel := context.WithTimeout(ctx, l.timeout)
		coords, err := p.Fetch(pctx, l.client)
		cancel()
		if err == nil {
			log.Info().Str("provider", p.Name()).
				Float64("lat", coords.Lat).Float64("lon", coords.Lon).
				Msg("Coordinates resolved")
			return coords, true
		}
		log.Warn().Err(err).Str("provider", p.Name()).Msg("Geolocation provider failed")
	}

	if coords, ok := timezoneCoordinates(systemZoneName()); ok {
		log.Info().Float64("lat", coords.Lat).Float64("lon", coords.Lon).
			Msg("Coordinates estimated from system timezone")
		return coords, true
	}

	log.Warn().Msg("All geolocation attempts failed, using fallback coordinates")
	return l.fallback, false
}

// systemZoneName returns the IANA name of the local timezone, or "".
func systemZoneName() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		return strings.TrimSpace(string(data))
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.Index(target, "/zoneinfo/"); i >= 0 {
			return target[i+len("/zoneinfo/"):]
		}
	}
	return ""
}
