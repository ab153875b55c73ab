package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
)

func mustGenerate(t *testing.T) *Provider {
	t.Helper()
	p, err := Generate()
	require.NoError(t, err)
	return p
}

// TestGenerate 测试身份生成
func TestGenerate(t *testing.T) {
	p := mustGenerate(t)
	id := p.LocalIdentity()

	require.NoError(t, id.ID.Validate())
	assert.NotEmpty(t, id.PublicKey)
	assert.True(t, VerifyIdentity(id))

	other := mustGenerate(t)
	assert.NotEqual(t, id.ID, other.LocalIdentity().ID)
}

// TestFromSeed_Deterministic 测试种子确定性
func TestFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, SeedSize)

	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.LocalIdentity(), b.LocalIdentity())

	_, err = FromSeed([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

// TestSignVerify 测试签名与验证
func TestSignVerify(t *testing.T) {
	p := mustGenerate(t)
	data := []byte("hello mesh")

	sig, err := p.Sign(data)
	require.NoError(t, err)

	pub := p.LocalIdentity().PublicKey
	assert.True(t, p.Verify(data, sig, pub))
	assert.False(t, p.Verify([]byte("tampered"), sig, pub))
	assert.False(t, p.Verify(data, sig[:10], pub))
	assert.False(t, p.Verify(data, sig, "not-base58-0OIl"))

	other := mustGenerate(t)
	assert.False(t, p.Verify(data, sig, other.LocalIdentity().PublicKey))
}

// TestVerifyIdentity 测试 ID 与公钥绑定
func TestVerifyIdentity(t *testing.T) {
	a := mustGenerate(t).LocalIdentity()
	b := mustGenerate(t).LocalIdentity()

	forged := a
	forged.PublicKey = b.PublicKey
	assert.False(t, VerifyIdentity(forged))

	forged.PublicKey = ""
	assert.False(t, VerifyIdentity(forged))
}

// TestDeriveSharedSecret 测试双方派生同一共享密钥
func TestDeriveSharedSecret(t *testing.T) {
	a := mustGenerate(t)
	b := mustGenerate(t)
	c := mustGenerate(t)

	ab, err := a.DeriveSharedSecret(b.LocalIdentity().PublicKey)
	require.NoError(t, err)
	ba, err := b.DeriveSharedSecret(a.LocalIdentity().PublicKey)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, SharedSecretSize)

	ac, err := a.DeriveSharedSecret(c.LocalIdentity().PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, ab, ac)

	_, err = a.DeriveSharedSecret("bogus")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

// TestSealOpen 测试加密往返
func TestSealOpen(t *testing.T) {
	a := mustGenerate(t)
	b := mustGenerate(t)
	key, err := a.DeriveSharedSecret(b.LocalIdentity().PublicKey)
	require.NoError(t, err)
	peerKey, err := b.DeriveSharedSecret(a.LocalIdentity().PublicKey)
	require.NoError(t, err)

	aad := []byte("msg-1")
	sealed, err := Seal(key, []byte("secret payload"), aad)
	require.NoError(t, err)

	plain, err := Open(peerKey, sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(plain))

	_, err = Open(peerKey, sealed, []byte("msg-2"))
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = Open(peerKey, sealed[:8], aad)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Seal(key[:5], []byte("x"), nil)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

// TestHash 测试摘要
func TestHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
	assert.Len(t, mustGenerate(t).Hash([]byte("x")), 64)
}

// TestPersistence 测试身份保存与加载
func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.pem")

	p, err := LoadOrGenerate(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.Equal(t, p.LocalIdentity(), again.LocalIdentity())

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

// TestModule 测试 fx 模块
func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.IdentityPath = filepath.Join(t.TempDir(), "id.pem")

	var provider interfaces.IdentityProvider
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&provider),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, provider)
	loaded, err := Load(cfg.IdentityPath)
	require.NoError(t, err)
	assert.Equal(t, loaded.LocalIdentity(), provider.LocalIdentity())
}
