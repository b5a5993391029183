package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// FramePublisher queues frame tasks for the identification workers.
type FramePublisher interface {
	PublishFrame(ctx context.Context, task models.FrameTask) error
}

// FrameUploader stores raw frames.
type FrameUploader interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Extractor turns a stream URL into a sequence of JPEG frames.
type Extractor interface {
	StartExtraction(ctx context.Context, streamURL string, fps int, width int, callback FrameCallback) error
	Stop()
}

type activeStream struct {
	cancel    context.CancelFunc
	extractor Extractor
}

// Manager manages video stream ingestion lifecycle.
type Manager struct {
	producer   FramePublisher
	store      FrameUploader
	width      int
	defaultFPS int
	maxFPS     int

	newExtractor func() Extractor
	retryDelay   func(attempt int) time.Duration

	mu      sync.RWMutex
	known   map[uuid.UUID]*models.Stream
	streams map[uuid.UUID]*activeStream
	wg      sync.WaitGroup
}

func NewManager(producer FramePublisher, store FrameUploader, cfg config.VisionConfig) *Manager {
	return &Manager{
		producer:     producer,
		store:        store,
		width:        cfg.FrameWidth,
		defaultFPS:   cfg.DefaultFPS,
		maxFPS:       cfg.MaxFPS,
		newExtractor: func() Extractor { return &FFmpegExtractor{} },
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second // 2s, 4s, 8s
		},
		known:   make(map[uuid.UUID]*models.Stream),
		streams: make(map[uuid.UUID]*activeStream),
	}
}

// Register adds a configured stream in the stopped state.
func (m *Manager) Register(sc config.StreamConfig) (models.Stream, error) {
	id, err := sc.StreamID()
	if err != nil {
		return models.Stream{}, fmt.Errorf("stream %q: %w", sc.Name, err)
	}
	st := &models.Stream{
		ID:         id,
		Name:       sc.Name,
		URL:        sc.URL,
		StreamType: streamType(sc.Type, sc.URL),
		FPS:        m.clampFPS(sc.FPS),
		Status:     models.StreamStatusStopped,
		UpdatedAt:  time.Now(),
	}
	if st.Name == "" {
		st.Name = id.String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.known[id]; exists {
		return models.Stream{}, fmt.Errorf("stream %s registered twice", id)
	}
	m.known[id] = st
	return *st, nil
}

// HandleCommand processes a stream control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd models.StreamControl) error {
	switch cmd.Action {
	case models.ControlStart:
		if cmd.URL != "" {
			m.mu.RLock()
			_, exists := m.known[cmd.StreamID]
			m.mu.RUnlock()
			if !exists {
				if _, err := m.Register(config.StreamConfig{
					ID:  cmd.StreamID.String(),
					URL: cmd.URL,
					FPS: cmd.FPS,
				}); err != nil {
					return err
				}
			}
		}
		return m.Start(ctx, cmd.StreamID)
	case models.ControlStop:
		return m.Stop(cmd.StreamID)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

// Start begins ingesting a registered stream. Extraction failures are
// retried with exponential backoff before the stream is marked as errored.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	st, ok := m.known[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("stream %s is not configured", id)
	}
	if _, running := m.streams[id]; running {
		m.mu.Unlock()
		return fmt.Errorf("stream %s already running", id)
	}
	streamURL, fps := st.URL, st.FPS

	streamCtx, cancel := context.WithCancel(ctx)
	as := &activeStream{cancel: cancel, extractor: m.newExtractor()}
	m.streams[id] = as
	m.wg.Add(1)
	m.mu.Unlock()

	observability.ActiveStreams.Inc()
	m.updateStatus(id, models.StreamStatusRunning, "")

	slog.Info("starting stream ingestion", "stream_id", id, "url", streamURL, "fps", fps)

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.streams, id)
			m.mu.Unlock()
			cancel()
			observability.ActiveStreams.Dec()
			slog.Info("stream ingestion stopped", "stream_id", id)
		}()

		const maxRetries = 3
		extractor := as.extractor

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := m.retryDelay(attempt)
				slog.Warn("retrying stream extraction",
					"stream_id", id,
					"attempt", attempt,
					"delay", delay,
				)
				select {
				case <-streamCtx.Done():
					m.updateStatus(id, models.StreamStatusStopped, "")
					return
				case <-time.After(delay):
				}

				extractor = m.newExtractor()
				m.mu.Lock()
				as.extractor = extractor
				m.mu.Unlock()
			}

			err := extractor.StartExtraction(streamCtx, streamURL, fps, m.width, func(frameData []byte) error {
				return m.handleFrame(streamCtx, id, frameData)
			})

			if err == nil || streamCtx.Err() != nil {
				m.updateStatus(id, models.StreamStatusStopped, "")
				return
			}

			slog.Error("stream extraction failed",
				"stream_id", id,
				"attempt", attempt,
				"error", err,
			)
		}

		m.updateStatus(id, models.StreamStatusError, "stream failed after retries")
	}()

	return nil
}

func (m *Manager) handleFrame(ctx context.Context, streamID uuid.UUID, frameData []byte) error {
	frameID := uuid.New()

	key := fmt.Sprintf("frames/%s/%s.jpg", streamID, frameID)
	if err := m.store.PutObject(ctx, key, frameData, "image/jpeg"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	task := models.FrameTask{
		StreamID:  streamID,
		FrameID:   frameID,
		Timestamp: time.Now(),
		FrameRef:  key,
		Width:     m.width,
	}
	if err := m.producer.PublishFrame(ctx, task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}
	return nil
}

// Stop ends ingestion of a stream. Stopping an idle stream is a no-op.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.RLock()
	as, exists := m.streams[id]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	m.mu.RLock()
	extractor := as.extractor
	m.mu.RUnlock()
	extractor.Stop()
	as.cancel()

	slog.Info("stop command sent", "stream_id", id)
	return nil
}

func (m *Manager) updateStatus(id uuid.UUID, status models.StreamStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.known[id]
	if !ok {
		return
	}
	st.Status = status
	st.ErrorMessage = errMsg
	st.UpdatedAt = time.Now()
}

// Streams returns a snapshot of every registered stream, ordered by name.
func (m *Manager) Streams() []models.Stream {
	m.mu.RLock()
	out := make([]models.Stream, 0, len(m.known))
	for _, st := range m.known {
		out = append(out, *st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveCount returns the number of currently running streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// StopAll stops all running streams and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
	m.Wait()
}

// Wait blocks until every ingestion goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) clampFPS(fps int) int {
	if fps <= 0 {
		fps = m.defaultFPS
	}
	if fps <= 0 {
		fps = 5
	}
	if m.maxFPS > 0 && fps > m.maxFPS {
		fps = m.maxFPS
	}
	return fps
}

func streamType(declared, url string) models.StreamType {
	switch models.StreamType(declared) {
	case models.StreamTypeRTSP, models.StreamTypeHTTP, models.StreamTypeDevice:
		return models.StreamType(declared)
	}
	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		return models.StreamTypeRTSP
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return models.StreamTypeHTTP
	default:
		return models.StreamTypeDevice
	}
}
