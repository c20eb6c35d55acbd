package sun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderParsers(t *testing.T) {
	tests := []struct {
		name    string
		parse   func([]byte) (Coordinates, error)
		body    string
		want    Coordinates
		wantErr bool
	}{
		{"ip-api ok", parseIPAPI, `{"status":"success","lat":47.5,"lon":19.04}`, Coordinates{47.5, 19.04}, false},
		{"ip-api failure", parseIPAPI, `{"status":"fail","message":"private range"}`, Coordinates{}, true},
		{"ipinfo ok", parseIPInfo, `{"loc":"47.5,19.04"}`, Coordinates{47.5, 19.04}, false},
		{"ipinfo missing", parseIPInfo, `{}`, Coordinates{}, true},
		{"ipwhois ok", parseIPWhois, `{"success":true,"latitude":47.5,"longitude":19.04}`, Coordinates{47.5, 19.04}, false},
		{"ipwhois failure", parseIPWhois, `{"success":false,"message":"reserved"}`, Coordinates{}, true},
		{"ipapi.co ok", parseIPAPICo, `{"latitude":47.5,"longitude":19.04}`, Coordinates{47.5, 19.04}, false},
		{"ipapi.co missing", parseIPAPICo, `{"error":true}`, Coordinates{}, true},
		{"geolocation-db ok", parseGeolocationDB, `{"latitude":47.5,"longitude":19.04}`, Coordinates{47.5, 19.04}, false},
		{"geolocation-db strings", parseGeolocationDB, `{"latitude":"47.5","longitude":"19.04"}`, Coordinates{47.5, 19.04}, false},
		{"geolocation-db not found", parseGeolocationDB, `{"latitude":"Not found","longitude":"Not found"}`, Coordinates{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorFallsThroughProviders(t *testing.T) {
	bad := jsonServer(t, http.StatusInternalServerError, "boom")
	good := jsonServer(t, http.StatusOK, `{"status":"success","lat":52.52,"lon":13.40}`)

	l := NewLocator(time.Second,
		HTTPProvider{"bad", bad.URL, parseIPAPI},
		HTTPProvider{"good", good.URL, parseIPAPI},
	)
	coords, located := l.Coordinates(context.Background())
	assert.True(t, located)
	assert.InDelta(t, 52.52, coords.Lat, 0.001)
	assert.InDelta(t, 13.40, coords.Lon, 0.001)
}

func TestLocatorTimezoneHeuristic(t *testing.T) {
	bad := jsonServer(t, http.StatusServiceUnavailable, "")
	t.Setenv("TZ", "Europe/Budapest")

	l := NewLocator(time.Second, HTTPProvider{"bad", bad.URL, parseIPAPI})
	coords, located := l.Coordinates(context.Background())
	assert.True(t, located)
	assert.InDelta(t, 47.4979, coords.Lat, 0.001)
}

func TestLocatorFixedFallback(t *testing.T) {
	bad := jsonServer(t, http.StatusServiceUnavailable, "")
	t.Setenv("TZ", "Mars/Olympus_Mons")

	l := NewLocator(time.Second, HTTPProvider{"bad", bad.URL, parseIPAPI})
	coords, located := l.Coordinates(context.Background())
	assert.False(t, located)
	assert.Equal(t, FallbackCoordinates, coords)
}

func TestCalculatorBudapest(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)

	c := NewCalculator(Coordinates{47.4979, 19.0402}, loc)
	date := time.Date(2024, time.June, 21, 12, 0, 0, 0, loc)
	rise, set, ok := c.SunTimes(date)
	require.True(t, ok)

	assert.Equal(t, loc, rise.Location())
	assert.True(t, rise.Before(set))
	// Midsummer Budapest: sunrise before 06:00, sunset after 20:00 local.
	assert.Less(t, rise.Hour(), 6)
	assert.GreaterOrEqual(t, set.Hour(), 20)
}

func TestCalculatorPolarNight(t *testing.T) {
	c := NewCalculator(Coordinates{78.2232, 15.6267}, time.UTC) // Svalbard
	_, _, ok := c.SunTimes(time.Date(2024, time.December, 21, 12, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}
