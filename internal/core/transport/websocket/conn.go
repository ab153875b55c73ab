package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// conn 一条已完成握手的连接
//
// gorilla/websocket 只允许一个并发写者，写操作由 writeMu 串行化。
type conn struct {
	ws      *websocket.Conn
	remote  types.PeerIdentity
	inbound bool
	limiter *rate.Limiter

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, remote types.PeerIdentity, inbound bool, cfg Config) *conn {
	limit := rate.Inf
	burst := cfg.InboundBurst
	if cfg.InboundRate > 0 {
		limit = rate.Limit(cfg.InboundRate)
		if burst <= 0 {
			burst = int(cfg.InboundRate)
		}
	}
	return &conn{
		ws:      ws,
		remote:  remote,
		inbound: inbound,
		limiter: rate.NewLimiter(limit, burst),
		closed:  make(chan struct{}),
	}
}

// write 发送一个二进制帧
//
// 截止时间取 ctx 截止时间与 timeout 中较早者。
func (c *conn) write(ctx context.Context, data []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// allow 入站限速
func (c *conn) allow() bool {
	return c.limiter.Allow()
}

func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
