package signal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Source yields the decisions that arrived since the previous call. An empty
// result means nothing new.
type Source interface {
	Next(ctx context.Context) ([]Decision, error)
}

// FileSource re-reads a JSON batch file whenever its modification time
// changes. A missing file is not an error.
type FileSource struct {
	path    string
	log     zerolog.Logger
	modTime time.Time
}

func NewFileSource(path string, log zerolog.Logger) *FileSource {
	return &FileSource{path: path, log: log.With().Str("component", "signals").Str("path", path).Logger()}
}

func (s *FileSource) Next(ctx context.Context) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !st.ModTime().After(s.modTime) {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.modTime = st.ModTime()

	ds, err := ParseBatch(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("signal file has invalid records")
	}
	s.log.Debug().Int("decisions", len(ds)).Msg("signal file loaded")
	return ds, nil
}

// WSSource keeps a websocket subscription open and holds the most recent
// batch until Next collects it. Dropped connections are redialed with
// exponential backoff.
type WSSource struct {
	url string
	log zerolog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu     sync.Mutex
	latest []Decision
	fresh  bool
	done   chan struct{}
	cancel context.CancelFunc
}

func NewWSSource(url string, log zerolog.Logger) *WSSource {
	return &WSSource{
		url:        url,
		log:        log.With().Str("component", "signals").Str("url", url).Logger(),
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Start runs the connection loop until ctx ends or Close is called.
func (s *WSSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *WSSource) Close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *WSSource) Next(ctx context.Context) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return nil, nil
	}
	s.fresh = false
	return s.latest, nil
}

func (s *WSSource) loop(ctx context.Context) {
	defer close(s.done)

	backoff := s.MinBackoff
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = s.MinBackoff
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("signal stream disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// session dials once and reads until the connection fails.
func (s *WSSource) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	s.log.Info().Msg("signal stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(1 << 20)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		ds, err := ParseBatch(msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("signal batch has invalid records")
		}
		s.mu.Lock()
		s.latest = ds
		s.fresh = true
		s.mu.Unlock()
	}
}
