package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
)

// StreamConfig holds push-stream settings.
type StreamConfig struct {
	URL            string
	Channels       []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// Stream is a PushStream over the exchange websocket.
type Stream struct {
	cfg  StreamConfig
	log  *logger.Logger
	mu   sync.Mutex
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer
	writeMu   sync.Mutex
	connected bool
}

func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Stream{cfg: cfg, log: log}
}

func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("stream connected", logger.String("url", s.cfg.URL))
	return nil
}

func (s *Stream) Subscribe(ctx context.Context) error {
	if len(s.cfg.Channels) == 0 {
		return nil
	}
	msg := map[string]interface{}{"method": "SUBSCRIPTION", "params": s.cfg.Channels}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("stream subscribed", logger.Strings("channels", s.cfg.Channels))
	return nil
}

func (s *Stream) writeJSON(v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("stream not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// frame is the push message envelope: channel, symbol, data, time.
type frame struct {
	C    string          `json:"c"`
	S    string          `json:"s"`
	D    json.RawMessage `json:"d"`
	T    int64           `json:"t"`
	Msg  string          `json:"msg"`
	Code *int            `json:"code"`
}

type statusData struct {
	Sts *int     `json:"sts"`
	St  *int     `json:"st"`
	Tt  *int     `json:"tt"`
	Ca  *float64 `json:"ca"`
	Ps  *float64 `json:"ps"`
	Qs  *float64 `json:"qs"`
	Ot  int64    `json:"ot"`
}

// decodeFrame turns a raw frame into an event. ok is false for control frames.
func decodeFrame(b []byte) (models.StreamEvent, bool) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil || f.C == "" {
		return models.StreamEvent{}, false
	}
	ev := models.StreamEvent{Channel: f.C, Symbol: f.S, Kind: channelKind(f.C), Raw: b, Time: time.Now()}
	if f.T > 0 {
		ev.Time = time.UnixMilli(f.T)
	}

	var sd statusData
	if len(f.D) > 0 && json.Unmarshal(f.D, &sd) == nil && (sd.Sts != nil || sd.St != nil || sd.Tt != nil) {
		ev.Kind = "status"
		ev.Status = &models.SymbolEntry{Cd: f.S, Sts: sd.Sts, St: sd.St, Tt: sd.Tt, Ca: sd.Ca, Ps: sd.Ps, Qs: sd.Qs, Ot: sd.Ot}
	}
	return ev, true
}

func channelKind(ch string) string {
	switch {
	case strings.Contains(ch, "deals"):
		return "deal"
	case strings.Contains(ch, "depth"):
		return "depth"
	case strings.Contains(ch, "bookTicker"), strings.Contains(ch, "ticker"):
		return "ticker"
	case strings.Contains(ch, "status"):
		return "status"
	}
	return "other"
}

// Read streams events until the connection fails or ctx is done. Events
// are dropped when the consumer falls behind.
func (s *Stream) Read(ctx context.Context) (<-chan models.StreamEvent, <-chan error) {
	events := make(chan models.StreamEvent, s.cfg.BufferSize)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				if err := s.writeJSON(map[string]string{"method": "PING"}); err != nil {
					s.log.Debug("stream ping failed", logger.Error(err))
				}
			}
		}
	}()

	go func() {
		defer cancel()
		defer close(events)
		defer close(errs)
		if conn == nil {
			errs <- errors.New("stream not connected")
			return
		}
		go func() {
			<-readCtx.Done()
			// unblocks ReadMessage on shutdown
			_ = conn.SetReadDeadline(time.Now())
		}()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			ev, ok := decodeFrame(b)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			default:
				s.log.Debug("stream event dropped", logger.String("channel", ev.Channel))
			}
		}
	}()

	return events, errs
}

func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-time.After(s.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

var _ drepo.PushStream = (*Stream)(nil)
