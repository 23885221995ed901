package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"time"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// maxUnixSeconds is 9999-12-31T23:59:59Z.
const maxUnixSeconds = 253402300799

// unixSeconds converts a client supplied server_time, which may carry a fractional part.
// NaN, infinities and values outside 1970 through year 9999 are rejected.
func unixSeconds(v float64) (time.Time, bool) {
	if math.IsNaN(v) || v < 0 || v > maxUnixSeconds {
		return time.Time{}, false
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
}
