// Package player provides a headless playback engine that streams a resolved track into an
// io.Writer. It reports faults and (re)starts on an event channel so a session can drive
// recovery the same way it would with a device player.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"melodeck/internal/core"
)

const (
	eventBufferSize = 16
	copyBufferSize  = 32 * 1024
)

// ErrNoItem is returned by Prepare and Play when nothing has been loaded.
var ErrNoItem = errors.New("no current item")

// SinkPlayer copies the stream of the current item into a sink. Prepare rewinds the player to
// the last written byte so a following Play resumes with a Range request.
//
// Thread-safety: all methods are safe for concurrent use.
type SinkPlayer struct {
	client    *http.Client
	sink      io.Writer
	userAgent string
	logger    *zap.Logger

	events chan core.PlayerEvent

	// writeMu serializes sink writes across transfers.
	writeMu sync.Mutex

	mu      sync.Mutex
	item    *core.StreamResolution
	state   core.PlaybackState
	offset  int64
	gen     uint64
	cancel  context.CancelFunc
	pumping bool
	closed  bool
	wg      sync.WaitGroup
}

func NewSinkPlayer(client *http.Client, sink io.Writer, logger *zap.Logger) *SinkPlayer {
	if client == nil {
		client = http.DefaultClient
	}
	return &SinkPlayer{
		client: client,
		sink:   sink,
		logger: logger,
		events: make(chan core.PlayerEvent, eventBufferSize),
	}
}

func (p *SinkPlayer) SetUserAgent(ua string) {
	p.userAgent = ua
}

// Load replaces the current item and starts streaming it from the beginning.
func (p *SinkPlayer) Load(_ context.Context, res *core.StreamResolution) error {
	if res == nil || res.URL == "" {
		return fmt.Errorf("cannot load empty stream resolution")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("player closed")
	}
	p.stopLocked()
	p.item = res
	p.offset = 0
	p.state = core.PlaybackBuffering
	p.startLocked()
	p.mu.Unlock()

	p.logger.Debug("Loaded stream", zap.String("track_id", res.TrackID), zap.String("client", res.Client))
	return nil
}

func (p *SinkPlayer) HasCurrentItem() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.item != nil
}

func (p *SinkPlayer) State() core.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Offset returns the number of bytes written to the sink for the current item.
func (p *SinkPlayer) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// Prepare stops any running transfer and readies the current item for a resumed Play.
func (p *SinkPlayer) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil {
		return ErrNoItem
	}
	p.stopLocked()
	p.state = core.PlaybackBuffering
	return nil
}

// Play resumes streaming from the current offset. It is a no-op while a transfer is running.
func (p *SinkPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil {
		return ErrNoItem
	}
	if p.closed {
		return fmt.Errorf("player closed")
	}
	if !p.pumping {
		p.startLocked()
	}
	return nil
}

func (p *SinkPlayer) Events() <-chan core.PlayerEvent {
	return p.events
}

// Close stops streaming, waits for the transfer goroutine and closes the event channel.
func (p *SinkPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopLocked()
	p.mu.Unlock()

	p.wg.Wait()
	close(p.events)
	return nil
}

func (p *SinkPlayer) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.gen++
	p.cancel = cancel
	p.pumping = true
	p.wg.Add(1)
	go p.pump(ctx, p.gen, p.item)
}

func (p *SinkPlayer) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.pumping = false
}

func (p *SinkPlayer) pump(ctx context.Context, gen uint64, item *core.StreamResolution) {
	defer p.wg.Done()

	err := p.transfer(ctx, gen, item)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.pumping = false
	if err == nil {
		p.state = core.PlaybackEnded
		p.mu.Unlock()
		p.logger.Debug("Stream finished", zap.String("track_id", item.TrackID))
		return
	}
	p.mu.Unlock()

	p.logger.Warn("Stream interrupted", zap.String("track_id", item.TrackID), zap.Error(err))
	p.emit(core.PlayerEvent{Kind: core.PlayerEventFault, Err: err})
}

func (p *SinkPlayer) transfer(ctx context.Context, gen uint64, item *core.StreamResolution) error {
	offset, ok := p.resumeOffset(gen)
	if !ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("stream returned HTTP %d", resp.StatusCode)
	}
	if offset > 0 && resp.StatusCode == http.StatusOK {
		// The server ignored the range; skip what the sink already has.
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return fmt.Errorf("failed to skip to offset %d: %w", offset, err)
		}
	}

	buf := make([]byte, copyBufferSize)
	started := false
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if !started {
				started = true
				if !p.markReady(gen) {
					return nil
				}
				p.emit(core.PlayerEvent{Kind: core.PlayerEventStarted})
			}
			current, err := p.write(gen, item, buf[:n])
			if err != nil {
				return fmt.Errorf("failed to write to sink: %w", err)
			}
			if !current {
				return nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("stream read failed: %w", readErr)
		}
	}
}

func (p *SinkPlayer) markReady(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.state = core.PlaybackReady
	return true
}

// resumeOffset waits for any write of an earlier transfer so the offset covers every byte
// already in the sink.
func (p *SinkPlayer) resumeOffset(gen uint64) (int64, bool) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset, p.gen == gen
}

// write copies b into the sink unless the transfer has been superseded. Bytes written for the
// current item always count towards its offset.
func (p *SinkPlayer) write(gen uint64, item *core.StreamResolution, b []byte) (bool, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	current := p.gen == gen
	p.mu.Unlock()
	if !current {
		return false, nil
	}

	if _, err := p.sink.Write(b); err != nil {
		return true, err
	}

	p.mu.Lock()
	if p.item == item {
		p.offset += int64(len(b))
	}
	p.mu.Unlock()
	return true, nil
}

// emit never blocks the transfer goroutine; a full channel drops the event.
func (p *SinkPlayer) emit(ev core.PlayerEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Dropped player event, consumer too slow", zap.Int("kind", int(ev.Kind)))
	}
}

var _ core.Player = (*SinkPlayer)(nil)
