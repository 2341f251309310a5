package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"qrhub/internal/common"
	"qrhub/internal/models"
	"qrhub/internal/qr"
	"qrhub/internal/repositories"
	"qrhub/internal/services"
	"qrhub/internal/worker"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(routingKey string, body []byte) error {
	return m.Called(routingKey, body).Error(0)
}

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Put(ctx context.Context, key string, png []byte) error {
	return m.Called(ctx, key, png).Error(0)
}

// mapCache is an in-process PNGCache that counts hits.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func (c *mapCache) Get(_ context.Context, content string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.data[content]; ok {
		c.hits++
		return b, nil
	}
	return nil, nil
}

func (c *mapCache) Set(_ context.Context, content string, png []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[content] = png
	return nil
}

// failingRecords fails every write.
type failingRecords struct {
	repositories.RecordRepository
}

func (failingRecords) CreateGenerated(context.Context, *models.GeneratedRecord) error {
	return common.ErrStorage
}

func (failingRecords) CreateRead(context.Context, *models.ReadRecord) error {
	return common.ErrStorage
}

type qrFixture struct {
	svc      *services.QRService
	accounts *repositories.MemoryAccountRepository
	records  *repositories.MemoryRecordRepository
	encoder  *qr.Encoder
}

func newQRFixture(t *testing.T, opts services.QRServiceOptions) *qrFixture {
	t.Helper()
	enc, err := qr.NewEncoder(qr.EncoderOptions{MaxVersion: 10, ModuleSize: 4, QuietZone: 4})
	require.NoError(t, err)

	accounts := repositories.NewMemoryAccountRepository()
	records := repositories.NewMemoryRecordRepository()
	require.NoError(t, accounts.Create(context.Background(), &models.Account{Username: "alice", Email: "a@x.io", PasswordHash: "h"}))

	if opts.DecodeTimeout == 0 {
		opts.DecodeTimeout = 10 * time.Second
	}
	svc := services.NewQRService(accounts, records, enc, qr.NewDecoder(0), worker.New(2, nil), opts)
	return &qrFixture{svc: svc, accounts: accounts, records: records, encoder: enc}
}

func TestQRService_GenerateAndRead(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{})
	ctx := context.Background()

	pngBytes, err := f.svc.Generate(ctx, "alice", "héllo")
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(pngBytes))
	require.NoError(t, err)

	content, err := f.svc.Read(ctx, pngBytes, "alice")
	require.NoError(t, err)
	assert.Equal(t, "héllo", content)

	generated, err := f.svc.ListGenerated(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, generated, 1)
	assert.Equal(t, "héllo", generated[0].Content)

	read, err := f.svc.ListRead(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "héllo", read[0].Content)
}

func TestQRService_Generate_Errors(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{})
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, "alice", "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Generate(ctx, "alice", strings.Repeat("a", f.encoder.Capacity()+1))
	assert.ErrorIs(t, err, common.ErrCapacityExceeded)

	_, err = f.svc.Generate(ctx, "deleted-user", "hi")
	assert.ErrorIs(t, err, common.ErrAuth)

	// Nothing was recorded by the failed attempts.
	_, err = f.svc.ListGenerated(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.svc.ListGenerated(ctx, "deleted-user")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestQRService_Generate_StorageFailureReturnsNoImage(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{})
	svc := services.NewQRService(f.accounts, failingRecords{}, f.encoder, qr.NewDecoder(0), worker.New(1, nil), services.QRServiceOptions{})

	img, err := svc.Generate(context.Background(), "alice", "hello")
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.Nil(t, img)
}

func TestQRService_Read_Anonymous(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{})
	ctx := context.Background()

	img, err := f.encoder.Encode("anon")
	require.NoError(t, err)

	content, err := f.svc.Read(ctx, img, "")
	require.NoError(t, err)
	assert.Equal(t, "anon", content)

	_, err = f.svc.ListRead(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestQRService_Read_FailuresWriteNothing(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{})
	ctx := context.Background()

	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	_, err := f.svc.Read(ctx, buf.Bytes(), "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.Read(ctx, []byte("not an image"), "alice")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Read(ctx, nil, "alice")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.ListRead(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestQRService_Read_Timeout(t *testing.T) {
	f := newQRFixture(t, services.QRServiceOptions{DecodeTimeout: time.Nanosecond})

	img, err := f.encoder.Encode(strings.Repeat("slow ", 40))
	require.NoError(t, err)

	_, err = f.svc.Read(context.Background(), img, "alice")
	assert.ErrorIs(t, err, common.ErrDecodeTimeout)
}

func TestQRService_Generate_UsesCache(t *testing.T) {
	cache := &mapCache{data: map[string][]byte{}}
	f := newQRFixture(t, services.QRServiceOptions{Cache: cache})
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, "alice", "cached")
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, "alice", "cached")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)

	// Every generate is recorded, cached or not.
	records, err := f.svc.ListGenerated(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

// gatedCache blocks the first Get until released and records the context
// state seen by Set.
type gatedCache struct {
	mapCache
	entered chan struct{}
	release chan struct{}
	setErr  chan error
}

func (c *gatedCache) Get(ctx context.Context, content string) ([]byte, error) {
	close(c.entered)
	<-c.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.mapCache.Get(ctx, content)
}

func (c *gatedCache) Set(ctx context.Context, content string, png []byte) error {
	c.setErr <- ctx.Err()
	return c.mapCache.Set(ctx, content, png)
}

func TestQRService_Render_SurvivesCallerCancel(t *testing.T) {
	cache := &gatedCache{
		mapCache: mapCache{data: map[string][]byte{}},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		setErr:   make(chan error, 1),
	}
	f := newQRFixture(t, services.QRServiceOptions{Cache: cache})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(ctx, "alice", "shared")
		done <- err
	}()

	<-cache.entered
	cancel()
	close(cache.release)

	assert.NoError(t, <-cache.setErr)
	assert.ErrorIs(t, <-done, context.Canceled)

	cached, err := cache.mapCache.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.NotEmpty(t, cached)
}

func TestQRService_ArchiveAndEvents(t *testing.T) {
	archive := new(MockArchive)
	events := new(MockPublisher)
	f := newQRFixture(t, services.QRServiceOptions{Archive: archive, Events: events})
	ctx := context.Background()

	archive.On("Put", mock.Anything, "alice/1.png", mock.Anything).Return(nil).Once()
	events.On("Publish", services.EventQRGenerated, mock.MatchedBy(func(body []byte) bool {
		var e services.QREvent
		return json.Unmarshal(body, &e) == nil &&
			e.Type == services.EventQRGenerated && e.RecordID == 1 &&
			e.Username == "alice" && e.ContentLength == 5 && e.ID != ""
	})).Return(nil).Once()
	events.On("Publish", services.EventQRRead, mock.Anything).Return(nil).Once()

	img, err := f.svc.Generate(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = f.svc.Read(ctx, img, "")
	require.NoError(t, err)

	archive.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestQRService_BestEffortSideEffects(t *testing.T) {
	archive := new(MockArchive)
	events := new(MockPublisher)
	f := newQRFixture(t, services.QRServiceOptions{Archive: archive, Events: events})

	archive.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("s3 down"))
	events.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	img, err := f.svc.Generate(context.Background(), "alice", "still works")
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	records, err := f.svc.ListGenerated(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
