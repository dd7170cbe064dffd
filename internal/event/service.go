package event

import (
	"context"
	"net/http"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/anonymize"
	"go.uber.org/zap"
)

// Enqueuer accepts events for deferred persistence.
type Enqueuer interface {
	Enqueue(e *Event)
}

type ServiceConfig struct {
	// MaxAge bounds how far in the past a client timestamp may point.
	MaxAge         time.Duration
	CountryHeaders []string
}

type Service struct {
	anonymizer *anonymize.Anonymizer
	buffer     Enqueuer
	cfg        ServiceConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(anonymizer *anonymize.Anonymizer, buffer Enqueuer, cfg ServiceConfig, logger *zap.Logger) *Service {
	return &Service{
		anonymizer: anonymizer,
		buffer:     buffer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Track validates a decoded beacon, anonymizes the visitor and queues the event.
// It returns a *ValidationError listing every failed field when the payload is rejected.
// The network address is only used for the fingerprint and is never stored.
func (s *Service) Track(ctx context.Context, payload map[string]any, networkAddress string, header http.Header) error {
	now := s.now()

	if ok, errs := ValidateAt(payload, now); !ok {
		s.logger.Debug("Beacon rejected", zap.Strings("errors", errs))
		return &ValidationError{Errors: errs}
	}

	sid, _ := payload["sid"].(string)
	fingerprint := s.anonymizer.FingerprintAt(sid, networkAddress, now)
	country := CountryFromHeaders(header, s.cfg.CountryHeaders)

	event := BuildEvent(payload, fingerprint, country, now, s.cfg.MaxAge)
	s.buffer.Enqueue(event)

	s.logger.Debug("Event queued",
		zap.String("event_id", event.ID.String()),
		zap.String("event_name", event.EventName),
		zap.String("page_path", event.PagePath),
	)
	return nil
}
