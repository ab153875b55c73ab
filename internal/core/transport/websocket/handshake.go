package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/pkg/types"
)

const (
	// challengeSize 握手挑战长度
	challengeSize = 32

	// headerChallenge hello 消息中回显对方挑战的头部
	headerChallenge = "challenge"
)

// handshake 双向身份认证
//
// 双方对称执行：
//
//  1. 发送 32 字节随机挑战
//  2. 读取对方挑战
//  3. 发送签名的 hello（PING 信封，challenge 头部为对方挑战的十六进制）
//  4. 读取对方 hello，校验挑战回显、ID 与公钥的绑定以及签名
//
// 返回对方身份。
func (t *Transport) handshake(ws *websocket.Conn, timeout time.Duration) (types.PeerIdentity, error) {
	deadline := time.Now().Add(timeout)
	_ = ws.SetReadDeadline(deadline)
	_ = ws.SetWriteDeadline(deadline)
	defer func() {
		_ = ws.SetReadDeadline(time.Time{})
		_ = ws.SetWriteDeadline(time.Time{})
	}()

	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return types.PeerIdentity{}, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, challenge); err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: send challenge: %v", transport.ErrHandshake, err)
	}

	remoteChallenge, err := readBinary(ws)
	if err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: read challenge: %v", transport.ErrHandshake, err)
	}
	if len(remoteChallenge) != challengeSize {
		return types.PeerIdentity{}, fmt.Errorf("%w: bad challenge size %d", transport.ErrHandshake, len(remoteChallenge))
	}

	hello, err := t.signedHello(remoteChallenge)
	if err != nil {
		return types.PeerIdentity{}, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: send hello: %v", transport.ErrHandshake, err)
	}

	data, err := readBinary(ws)
	if err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: read hello: %v", transport.ErrHandshake, err)
	}
	msg, err := t.codec.Unmarshal(data)
	if err != nil {
		return types.PeerIdentity{}, fmt.Errorf("%w: %v", transport.ErrHandshake, err)
	}
	return verifyHello(msg, challenge)
}

func (t *Transport) signedHello(remoteChallenge []byte) ([]byte, error) {
	msg := types.NewMessage(wire.NewMessageID(), types.MessagePing, t.identity.LocalIdentity(), types.PeerIdentity{}, nil)
	msg.SetHeader(headerChallenge, hex.EncodeToString(remoteChallenge))

	sig, err := t.identity.Sign(wire.SigningBytes(msg))
	if err != nil {
		return nil, fmt.Errorf("%w: sign hello: %v", transport.ErrHandshake, err)
	}
	msg.Signature = sig
	return t.codec.Marshal(msg)
}

func verifyHello(msg *types.Message, challenge []byte) (types.PeerIdentity, error) {
	if msg.Type != types.MessagePing {
		return types.PeerIdentity{}, fmt.Errorf("%w: unexpected %s", transport.ErrHandshake, msg.Type)
	}
	if echoed, _ := msg.Header(headerChallenge); echoed != hex.EncodeToString(challenge) {
		return types.PeerIdentity{}, fmt.Errorf("%w: challenge mismatch", transport.ErrHandshake)
	}
	if !identity.VerifyIdentity(msg.From) {
		return types.PeerIdentity{}, fmt.Errorf("%w: peer ID not derived from public key", transport.ErrHandshake)
	}
	if !identity.Verify(wire.SigningBytes(msg), msg.Signature, msg.From.PublicKey) {
		return types.PeerIdentity{}, fmt.Errorf("%w: bad signature", transport.ErrHandshake)
	}
	return msg.From, nil
}

func readBinary(ws *websocket.Conn) ([]byte, error) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}
