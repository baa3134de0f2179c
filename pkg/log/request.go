package log

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// requestLog is the per-request logger shared by the gin and net/http
// middlewares.
type requestLog struct {
	id     string
	logger zerolog.Logger
	start  time.Time
	quiet  bool
}

type pathSet map[string]struct{}

func newPathSet(paths []string) pathSet {
	s := make(pathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s pathSet) has(p string) bool {
	_, ok := s[p]
	return ok
}

// beginRequest reuses the caller's request id when present.
func beginRequest(base zerolog.Logger, reqID, method, path, ip string, quiet bool) *requestLog {
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return &requestLog{
		id: reqID,
		logger: base.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, method).
			Str(FieldPath, path).
			Str(FieldClientIP, ip).
			Logger(),
		start: time.Now(),
		quiet: quiet,
	}
}

// end writes the completion line; extra adds actor fields.
func (r *requestLog) end(status int, extra func(e *zerolog.Event)) {
	if r.quiet {
		return
	}
	e := r.logger.Info().
		Int(FieldStatus, status).
		Float64(FieldLatency, float64(time.Since(r.start).Microseconds())/1000)
	if extra != nil {
		extra(e)
	}
	e.Msg("request completed")
}
