package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/safego"
)

const (
	backpressurePolicyDropOldest = "drop_oldest"
	backpressurePolicyBlock      = "block"
)

// Connection wraps a websocket.Conn with a buffered writer goroutine so hub
// broadcasts never block on a slow client. Events enqueued through WriteJSON
// are written to the wire in enqueue order; when the buffer fills, the
// configured backpressure policy decides whether to drop the oldest queued
// event or block the producer.
type Connection struct {
	wsConn            *websocket.Conn
	logger            domain.Logger
	connID            string
	connCtx           context.Context
	cancelConnCtxFunc context.CancelFunc
	remoteAddrStr     string

	mu           sync.Mutex // protects wsConn for writes
	writeTimeout time.Duration
	pingInterval time.Duration
	pongWait     time.Duration

	messageBuffer  chan []byte
	bufferCapacity int
	dropPolicy     string

	writerWg      sync.WaitGroup
	writerMu      sync.Mutex // protects writerRunning and buffer close
	writerRunning bool
}

// NewConnection creates a managed connection and starts its writer goroutine.
func NewConnection(
	connCtx context.Context,
	cancelFunc context.CancelFunc,
	wsConn *websocket.Conn,
	connID string,
	remoteAddr string,
	logger domain.Logger,
	cfgProvider config.Provider,
) *Connection {
	appCfg := cfgProvider.Get().App
	bufferCap := appCfg.MessageBufferSize
	if bufferCap <= 0 {
		bufferCap = 64
		logger.Warn(connCtx, "MessageBufferSize not configured, using default", "default_size", bufferCap)
	}
	dropPol := strings.ToLower(appCfg.BackpressureDropPolicy)
	if dropPol != backpressurePolicyDropOldest && dropPol != backpressurePolicyBlock {
		logger.Warn(connCtx, "Invalid BackpressureDropPolicy, defaulting to drop_oldest", "configured_policy", appCfg.BackpressureDropPolicy)
		dropPol = backpressurePolicyDropOldest
	}
	writeTimeout := time.Duration(appCfg.WriteTimeoutSeconds) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	pingInterval := time.Duration(appCfg.PingIntervalSeconds) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait := time.Duration(appCfg.PongWaitSeconds) * time.Second
	if pongWait <= 0 {
		pongWait = 2 * pingInterval
	}

	c := &Connection{
		wsConn:            wsConn,
		logger:            logger,
		connID:            connID,
		connCtx:           connCtx,
		cancelConnCtxFunc: cancelFunc,
		remoteAddrStr:     remoteAddr,
		writeTimeout:      writeTimeout,
		pingInterval:      pingInterval,
		pongWait:          pongWait,
		messageBuffer:     make(chan []byte, bufferCap),
		bufferCapacity:    bufferCap,
		dropPolicy:        dropPol,
	}
	c.startWriter()
	return c
}

// ID returns the unique connection id assigned at upgrade time.
func (c *Connection) ID() string {
	return c.connID
}

// Context returns the context associated with this connection.
func (c *Connection) Context() context.Context {
	return c.connCtx
}

// RemoteAddr returns the remote network address string of the client.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddrStr
}

func (c *Connection) startWriter() {
	c.writerMu.Lock()
	if c.writerRunning {
		c.writerMu.Unlock()
		return
	}
	c.writerRunning = true
	c.writerMu.Unlock()

	c.writerWg.Add(1)
	safego.Execute(c.connCtx, c.logger, fmt.Sprintf("WebSocketWriter-%s", c.connID), func() {
		defer c.writerWg.Done()
		for {
			select {
			case <-c.connCtx.Done():
				return
			case msgBytes, ok := <-c.messageBuffer:
				if !ok {
					return
				}
				if err := c.writeFrame(msgBytes); err != nil {
					if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						c.logger.Error(c.connCtx, "Failed to write buffered message", "error", err.Error())
						// Signal the read loop to tear the connection down.
						c.cancelConnCtxFunc()
					}
					return
				}
			}
		}
	})
}

// writeFrame writes one frame with the write timeout. A background context is
// used so an in-flight write can complete even while the connection context
// is being cancelled.
func (c *Connection) writeFrame(msgBytes []byte) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return errors.New("websocket connection closed")
	}
	select {
	case <-c.connCtx.Done():
		return c.connCtx.Err()
	default:
	}
	return c.wsConn.Write(writeCtx, websocket.MessageText, msgBytes)
}

// WriteJSON marshals v and enqueues it on the send buffer. When the buffer is
// full the configured backpressure policy applies: drop_oldest evicts the
// oldest queued event to make room, block waits until space frees up or the
// connection context ends.
func (c *Connection) WriteJSON(v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	select {
	case <-c.connCtx.Done():
		return c.connCtx.Err()
	default:
	}

	c.writerMu.Lock()
	running := c.writerRunning
	c.writerMu.Unlock()
	if !running {
		return fmt.Errorf("writer not running for connection %s", c.connID)
	}

	// Fast path: space available.
	select {
	case c.messageBuffer <- msgBytes:
		return nil
	default:
	}

	if c.dropPolicy == backpressurePolicyBlock {
		select {
		case c.messageBuffer <- msgBytes:
			return nil
		case <-c.connCtx.Done():
			metrics.IncrementMessagesDropped("block_ctx_done")
			return c.connCtx.Err()
		}
	}

	// drop_oldest: evict one queued event, then enqueue the new one. The
	// writer may drain concurrently, so both selects stay non-blocking.
	select {
	case <-c.messageBuffer:
		metrics.IncrementMessagesDropped("buffer_full_dropped_oldest")
		c.logger.Warn(c.connCtx, "Dropped oldest buffered event due to backpressure", "capacity", c.bufferCapacity)
	default:
	}
	select {
	case c.messageBuffer <- msgBytes:
		return nil
	default:
		metrics.IncrementMessagesDropped("buffer_full_post_drop")
		return fmt.Errorf("send buffer full for connection %s", c.connID)
	}
}

// ReadMessage reads one data message. Control frames are handled internally
// by the library.
func (c *Connection) ReadMessage(ctx context.Context) (websocket.MessageType, []byte, error) {
	return c.wsConn.Read(ctx)
}

// Ping sends a ping frame and waits for the pong, bounded by the configured
// pong wait. The caller treats an error as a dead peer.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	ws := c.wsConn
	c.mu.Unlock()
	if ws == nil {
		return errors.New("cannot ping: websocket connection closed")
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.pongWait)
	defer cancel()
	return ws.Ping(pingCtx)
}

// PingInterval returns the configured keepalive interval.
func (c *Connection) PingInterval() time.Duration {
	return c.pingInterval
}

// cancelCtx cancels the connection's lifetime context without closing the
// underlying socket; the read loop observes the cancellation and tears the
// connection down through its usual path.
func (c *Connection) cancelCtx() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelConnCtxFunc != nil {
		c.cancelConnCtxFunc()
	}
}

// Close stops the writer goroutine and closes the WebSocket connection with
// the given status code. Safe to call more than once.
func (c *Connection) Close(statusCode websocket.StatusCode, reason string) error {
	c.writerMu.Lock()
	if c.writerRunning {
		close(c.messageBuffer)
		c.writerRunning = false
	}
	c.writerMu.Unlock()
	c.writerWg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelConnCtxFunc != nil {
		cancel := c.cancelConnCtxFunc
		c.cancelConnCtxFunc = nil
		cancel()
	}

	if c.wsConn == nil {
		return nil
	}
	err := c.wsConn.Close(statusCode, reason)
	c.wsConn = nil
	return err
}

// CloseWithError sends a final error frame to the client and closes the
// connection with the close code derived from the error response.
func (c *Connection) CloseWithError(errResp domain.ErrorResponse, reason string) error {
	c.logger.Warn(c.connCtx, "Closing connection with error", "code", errResp.Code, "message", errResp.Message, "reason", reason)
	if err := c.WriteJSON(domain.NewErrorMessage(errResp)); err != nil {
		c.logger.Error(c.connCtx, "Failed to queue error frame before close", "error", err.Error())
	}
	return c.Close(errResp.ToWebSocketCloseCode(), reason)
}
