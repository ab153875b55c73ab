// Package websocket 提供基于 WebSocket 的网络传输
//
// 每个节点在 ListenAddress 上运行一个 HTTP 服务，在 Config.Path 上升级为
// WebSocket。连接建立后先完成双向签名握手（见 handshake.go），之后每个
// 二进制帧承载一条 wire 编码的信封。
//
// 地址形如 "host:port"，也接受完整的 "ws://host:port/path"。
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var logger = log.Logger("transport/websocket")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport WebSocket 传输
type Transport struct {
	cfg      Config
	identity interfaces.IdentityProvider
	codec    *wire.Codec
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	listenMu sync.Mutex
	server   *http.Server
	listener net.Listener
	address  atomic.Value // string

	conns   map[types.PeerID]*conn
	connsMu sync.RWMutex

	handlerMu sync.RWMutex
	onMessage interfaces.MessageHandler
	onConn    interfaces.ConnectionHandler

	wg       sync.WaitGroup
	handling atomic.Int32 // 正在执行的回调数
}

// 确保实现 interfaces.Transport 接口
var _ interfaces.Transport = (*Transport)(nil)

// New 创建 WebSocket 传输
func New(cfg Config, id interfaces.IdentityProvider) *Transport {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = NewConfig().WriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = NewConfig().DialTimeout
	}

	t := &Transport{
		cfg:      cfg,
		identity: id,
		codec:    wire.NewCodec(cfg.MaxMessageSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		conns: make(map[types.PeerID]*conn),
	}
	t.address.Store("")
	return t
}

// Listen 在 address 上启动 HTTP 服务
func (t *Transport) Listen(ctx context.Context, address string) error {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()

	if t.server != nil {
		return transport.ErrAlreadyListening
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrInvalidAddress, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handleUpgrade)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.cfg.DialTimeout,
	}

	t.server = server
	t.listener = ln
	t.address.Store(ln.Addr().String())

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("HTTP 服务退出", "err", err)
		}
	}()

	logger.Info("WebSocket 传输开始监听", "addr", ln.Addr().String(), "path", t.cfg.Path)
	return nil
}

// StopListening 关闭 HTTP 服务与全部连接
func (t *Transport) StopListening() error {
	t.listenMu.Lock()
	server := t.server
	t.server = nil
	t.listener = nil
	t.listenMu.Unlock()

	var err error
	if server != nil {
		err = server.Close()
	}

	t.connsMu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.connsMu.Unlock()

	for _, c := range conns {
		_ = c.close()
	}
	// 在回调中调用时读循环仍在当前调用栈上，连接已关闭，读循环随后自行退出
	if t.handling.Load() == 0 {
		t.wg.Wait()
	}
	t.address.Store("")
	return err
}

// ListenAddress 返回实际监听地址
func (t *Transport) ListenAddress() string {
	return t.address.Load().(string)
}

// Connect 拨号并完成握手
func (t *Transport) Connect(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error) {
	if peer == nil || peer.PrimaryAddress() == "" {
		return types.PeerIdentity{}, transport.ErrInvalidAddress
	}
	if !peer.ID().IsEmpty() {
		if c, ok := t.getConn(peer.ID()); ok {
			return c.remote, nil
		}
	}

	url := t.dialURL(peer.PrimaryAddress())
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	ws, _, err := t.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, url, err)
	}

	remote, err := t.handshake(ws, t.cfg.DialTimeout)
	if err != nil {
		ws.Close()
		return types.PeerIdentity{}, err
	}
	if remote.ID == t.identity.LocalIdentity().ID {
		ws.Close()
		return types.PeerIdentity{}, transport.ErrSelfDial
	}
	if !peer.ID().IsEmpty() && peer.ID() != remote.ID {
		ws.Close()
		return types.PeerIdentity{}, fmt.Errorf("%w: expected %s, got %s",
			transport.ErrPeerIDMismatch, peer.ID().ShortString(), remote.ID.ShortString())
	}

	c := newConn(ws, remote, false, t.cfg)
	if !t.addConn(c) {
		ws.Close()
		return remote, nil
	}

	t.wg.Add(1)
	go t.readLoop(c)

	logger.Debug("出站连接已建立", "peer", remote.ID.ShortString(), "url", url)
	t.notifyConn(remote, true)
	return remote, nil
}

// Disconnect 关闭与对端的连接
func (t *Transport) Disconnect(peer types.PeerID) error {
	c, ok := t.getConn(peer)
	if !ok {
		return nil
	}
	return c.close()
}

// Send 向对端写入一帧
func (t *Transport) Send(ctx context.Context, peer types.PeerID, msg *types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := t.getConn(peer)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNotConnected, peer.ShortString())
	}

	data, err := t.codec.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.write(ctx, data, t.cfg.WriteTimeout); err != nil {
		_ = c.close()
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	}
	return nil
}

// IsConnected 检查是否已连接
func (t *Transport) IsConnected(peer types.PeerID) bool {
	_, ok := t.getConn(peer)
	return ok
}

// ConnectedPeers 返回已连接对端（按 ID 排序）
func (t *Transport) ConnectedPeers() []types.PeerID {
	t.connsMu.RLock()
	peers := make([]types.PeerID, 0, len(t.conns))
	for id := range t.conns {
		peers = append(peers, id)
	}
	t.connsMu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// SetMessageHandler 注册入站消息回调
func (t *Transport) SetMessageHandler(h interfaces.MessageHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onMessage = h
}

// SetConnectionHandler 注册连接状态回调
func (t *Transport) SetConnectionHandler(h interfaces.ConnectionHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onConn = h
}

// ============================================================================
//                              内部实现
// ============================================================================

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("升级失败", "remote", r.RemoteAddr, "err", err)
		return
	}

	remote, err := t.handshake(ws, t.cfg.DialTimeout)
	if err != nil {
		logger.Debug("入站握手失败", "remote", r.RemoteAddr, "err", err)
		ws.Close()
		return
	}

	c := newConn(ws, remote, true, t.cfg)
	if !t.addConn(c) {
		logger.Debug("已存在连接，关闭重复入站连接", "peer", remote.ID.ShortString())
		ws.Close()
		return
	}

	logger.Debug("入站连接已建立", "peer", remote.ID.ShortString(), "remote", r.RemoteAddr)
	t.notifyConn(remote, true)

	t.wg.Add(1)
	t.readLoop(c)
}

func (t *Transport) readLoop(c *conn) {
	defer t.wg.Done()
	defer t.removeConn(c)

	c.ws.SetReadLimit(int64(t.codec.MaxSize))
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				logger.Debug("连接读取结束", "peer", c.remote.ID.ShortString(), "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if !c.allow() {
			logger.Debug("入站限速，丢弃消息", "peer", c.remote.ID.ShortString())
			continue
		}

		msg, err := t.codec.Unmarshal(data)
		if err != nil {
			logger.Debug("丢弃无法解码的消息", "peer", c.remote.ID.ShortString(), "err", err)
			continue
		}

		t.handlerMu.RLock()
		h := t.onMessage
		t.handlerMu.RUnlock()
		if h != nil {
			t.handling.Add(1)
			h(c.remote.ID, msg)
			t.handling.Add(-1)
		}
	}
}

// addConn 注册连接，已存在同一对端的连接时返回 false
func (t *Transport) addConn(c *conn) bool {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if _, exists := t.conns[c.remote.ID]; exists {
		return false
	}
	t.conns[c.remote.ID] = c
	return true
}

func (t *Transport) removeConn(c *conn) {
	_ = c.close()

	t.connsMu.Lock()
	current, ok := t.conns[c.remote.ID]
	if ok && current == c {
		delete(t.conns, c.remote.ID)
	}
	t.connsMu.Unlock()

	if ok && current == c {
		t.notifyConn(c.remote, false)
	}
}

func (t *Transport) getConn(peer types.PeerID) (*conn, bool) {
	t.connsMu.RLock()
	defer t.connsMu.RUnlock()
	c, ok := t.conns[peer]
	return c, ok
}

func (t *Transport) notifyConn(peer types.PeerIdentity, connected bool) {
	t.handlerMu.RLock()
	h := t.onConn
	t.handlerMu.RUnlock()
	if h != nil {
		t.handling.Add(1)
		defer t.handling.Add(-1)
		h(peer, connected)
	}
}

func (t *Transport) dialURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + t.cfg.Path
}
