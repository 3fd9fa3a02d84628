package api

import (
	"net/http"
	"sort"
	"time"
)

// unitSystems maps the configured unit system to HA's unit table.
var unitSystems = map[string]map[string]string{
	"metric": {
		"length":      "km",
		"mass":        "g",
		"temperature": "°C",
		"volume":      "L",
		"pressure":    "Pa",
		"wind_speed":  "m/s",
	},
	"us_customary": {
		"length":      "mi",
		"mass":        "lb",
		"temperature": "°F",
		"volume":      "gal",
		"pressure":    "psi",
		"wind_speed":  "mph",
	},
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"entities":       s.states.Count(),
	})
}

// handleAPIStatus answers GET /api/.
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "API running.")
}

// handleConfig answers GET /api/config.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.configPayload())
}

// configPayload is shared by GET /api/config and the get_config command.
func (s *Server) configPayload() map[string]any {
	units, ok := unitSystems[s.site.UnitSystem]
	if !ok {
		units = unitSystems["metric"]
	}

	components := make([]string, 0)
	for _, ds := range s.services.Services() {
		components = append(components, ds.Domain)
	}
	sort.Strings(components)

	tz := s.site.Timezone
	if tz == "" {
		tz = "UTC"
	}

	return map[string]any{
		"location_name": s.site.Name,
		"latitude":      s.site.Location.Latitude,
		"longitude":     s.site.Location.Longitude,
		"elevation":     s.site.Location.Elevation,
		"time_zone":     tz,
		"unit_system":   units,
		"components":    components,
		"version":       s.version,
		"state":         "RUNNING",
	}
}
