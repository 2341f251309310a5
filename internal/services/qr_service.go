package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"qrhub/internal/common"
	"qrhub/internal/logging"
	"qrhub/internal/models"
	"qrhub/internal/qr"
	"qrhub/internal/repositories"
	"qrhub/internal/worker"
)

// QRServiceOptions carries the optional collaborators of a QRService. Nil
// Cache, Archive or Events disable that feature.
type QRServiceOptions struct {
	DecodeTimeout time.Duration
	Cache         PNGCache
	Archive       ImageArchive
	Events        EventPublisher
	Logger        logging.Logger
	Now           func() time.Time
}

// QRService generates and reads QR codes and records the content per user.
type QRService struct {
	accounts repositories.AccountRepository
	records  repositories.RecordRepository
	encoder  *qr.Encoder
	decoder  *qr.Decoder
	pool     *worker.Pool
	opts     QRServiceOptions

	renders singleflight.Group
}

// NewQRService creates a new QRService.
func NewQRService(
	accounts repositories.AccountRepository,
	records repositories.RecordRepository,
	encoder *qr.Encoder,
	decoder *qr.Decoder,
	pool *worker.Pool,
	opts QRServiceOptions,
) *QRService {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &QRService{
		accounts: accounts,
		records:  records,
		encoder:  encoder,
		decoder:  decoder,
		pool:     pool,
		opts:     opts,
	}
}

// Generate renders content as a PNG symbol for an existing account and
// records it. The image is only returned once the record is stored.
func (s *QRService) Generate(ctx context.Context, username, content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", common.ErrValidation)
	}
	if len(content) > s.encoder.Capacity() {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", common.ErrCapacityExceeded, len(content), s.encoder.Capacity())
	}

	if _, err := s.accounts.GetByUsername(ctx, username); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: account %s no longer exists", common.ErrAuth, username)
		}
		return nil, fmt.Errorf("generate: %w", err)
	}

	png, err := s.render(ctx, content)
	if err != nil {
		return nil, err
	}

	record := &models.GeneratedRecord{Username: username, Content: content}
	if err := s.records.CreateGenerated(ctx, record); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	if s.opts.Archive != nil {
		key := fmt.Sprintf("%s/%d.png", username, record.ID)
		if err := s.opts.Archive.Put(ctx, key, png); err != nil {
			s.opts.Logger.Warn(ctx, "archive generated image", "key", key, "error", err)
		}
	}
	s.publish(ctx, newQREvent(EventQRGenerated, record.ID, username, len(content), s.opts.Now()))

	return png, nil
}

// render returns the PNG for content, from the cache when possible.
// Concurrent requests for the same content share one encode, so the
// shared work is detached from the cancellation of whichever caller
// started it.
func (s *QRService) render(ctx context.Context, content string) ([]byte, error) {
	v, err, _ := s.renders.Do(content, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		if s.opts.Cache != nil {
			cached, err := s.opts.Cache.Get(ctx, content)
			if err != nil {
				s.opts.Logger.Warn(ctx, "png cache get", "error", err)
			} else if cached != nil {
				return cached, nil
			}
		}

		png, err := s.encoder.Encode(content)
		if err != nil {
			return nil, err
		}
		if s.opts.Cache != nil {
			if err := s.opts.Cache.Set(ctx, content, png); err != nil {
				s.opts.Logger.Warn(ctx, "png cache set", "error", err)
			}
		}
		return png, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Read decodes the QR symbol in image on the worker pool. A successful
// decode is recorded under username, or anonymously when username is empty.
// Failed decodes write nothing.
func (s *QRService) Read(ctx context.Context, image []byte, username string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: image is required", common.ErrValidation)
	}

	content, err := worker.Submit(ctx, s.pool, s.opts.DecodeTimeout, func(context.Context) (string, error) {
		return s.decoder.Decode(image)
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("%w: %w", common.ErrDecodeTimeout, err)
	case errors.Is(err, worker.ErrTaskPanicked):
		return "", fmt.Errorf("%w: %w", common.ErrNotFound, err)
	case err != nil:
		return "", err
	}

	record := &models.ReadRecord{Content: content}
	if username != "" {
		record.Username = &username
	}
	if err := s.records.CreateRead(ctx, record); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	s.publish(ctx, newQREvent(EventQRRead, record.ID, username, len(content), s.opts.Now()))

	return content, nil
}

// ListGenerated returns the content generated by username, oldest first.
func (s *QRService) ListGenerated(ctx context.Context, username string) ([]models.GeneratedRecord, error) {
	records, err := s.records.ListGenerated(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no generated content for %s", common.ErrNotFound, username)
	}
	return records, nil
}

// ListRead returns the content read by username, oldest first.
func (s *QRService) ListRead(ctx context.Context, username string) ([]models.ReadRecord, error) {
	records, err := s.records.ListRead(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no read content for %s", common.ErrNotFound, username)
	}
	return records, nil
}

func (s *QRService) publish(ctx context.Context, event QREvent) {
	if s.opts.Events == nil {
		return
	}
	body, err := event.marshal()
	if err == nil {
		err = s.opts.Events.Publish(event.Type, body)
	}
	if err != nil {
		s.opts.Logger.Warn(ctx, "publish event", "type", event.Type, "record_id", event.RecordID, "error", err)
	}
}
