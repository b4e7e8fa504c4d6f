package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registryStub implements identity.Verifier for tests.
type registryStub struct {
	registered map[string]bool
	err        error
	calls      int
}

func (r *registryStub) IsRegistered(_ context.Context, address string) (bool, error) {
	r.calls++
	if r.err != nil {
		return false, r.err
	}
	return r.registered[address], nil
}

// sign produces a personal-sign signature over the canonical payload,
// the same way a client wallet would.
func sign(t *testing.T, key *ecdsa.PrivateKey, p *SignedPayload) string {
	t.Helper()
	payload, err := CanonicalPayload(p)
	require.NoError(t, err)

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(prefixed)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig)
}

func signedPayload(t *testing.T, key *ecdsa.PrivateKey, ts time.Time) *SignedPayload {
	t.Helper()
	p := &SignedPayload{
		MessageID: "msg-1",
		Timestamp: ts.UnixMilli(),
		SkillID:   "move-to-room",
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		SkillData: map[string]any{"targetRoom": "storage"},
	}
	p.Signature = sign(t, key, p)
	return p
}

func newVerifierAt(reg *registryStub, now time.Time) *Verifier {
	v := NewVerifier(reg)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_HappyPath(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	now := time.Now()
	p := signedPayload(t, key, now)

	reg := &registryStub{registered: map[string]bool{addr: true}}
	v := newVerifierAt(reg, now)

	assert.NoError(t, v.Verify(context.Background(), p))
	assert.Equal(t, 1, reg.calls)
}

func TestVerify_StaleMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Now()
	p := signedPayload(t, key, now.Add(-6*time.Minute))

	reg := &registryStub{}
	v := newVerifierAt(reg, now)

	err := v.Verify(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message too old")
	assert.Zero(t, reg.calls, "stale messages must not reach the registry")
}

func TestVerify_FutureMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Now()
	p := signedPayload(t, key, now.Add(2*time.Minute))

	v := newVerifierAt(&registryStub{}, now)

	err := v.Verify(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "future")
}

func TestVerify_WithinSkewAccepted(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := time.Now()
	p := signedPayload(t, key, now.Add(30*time.Second))

	v := newVerifierAt(&registryStub{registered: map[string]bool{addr: true}}, now)
	assert.NoError(t, v.Verify(context.Background(), p))
}

func TestVerify_ImpersonationRejected(t *testing.T) {
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	addrA := crypto.PubkeyToAddress(keyA.PublicKey).Hex()
	addrB := crypto.PubkeyToAddress(keyB.PublicKey).Hex()

	now := time.Now()
	p := signedPayload(t, keyA, now)
	// A signs, but claims to be B.
	p.Address = addrB
	p.Signature = sign(t, keyA, p)

	reg := &registryStub{registered: map[string]bool{addrA: true, addrB: true}}
	v := newVerifierAt(reg, now)

	err := v.Verify(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addrA)
	assert.Contains(t, err.Error(), addrB)
	assert.Zero(t, reg.calls)
}

func TestVerify_TamperedSkillDataRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := time.Now()
	p := signedPayload(t, key, now)

	// Mutate a signed field after signing.
	p.SkillData["targetRoom"] = "reactor"

	v := newVerifierAt(&registryStub{registered: map[string]bool{addr: true}}, now)
	assert.Error(t, v.Verify(context.Background(), p))
}

func TestVerify_CaseInsensitiveAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := time.Now()

	p := &SignedPayload{
		MessageID: "msg-2",
		Timestamp: now.UnixMilli(),
		SkillID:   "get-status",
		Address:   "0X" + addr[2:], // odd casing from the client
		SkillData: map[string]any{},
	}
	p.Signature = sign(t, key, p)

	// Registry sees the recovered (checksummed) address.
	v := newVerifierAt(&registryStub{registered: map[string]bool{addr: true}}, now)
	assert.NoError(t, v.Verify(context.Background(), p))
}

func TestVerify_UnregisteredSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Now()
	p := signedPayload(t, key, now)

	v := newVerifierAt(&registryStub{registered: map[string]bool{}}, now)

	err := v.Verify(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestFromDataPart(t *testing.T) {
	data := map[string]any{
		"skillId":      "move-to-room",
		"agentAddress": "0xabc",
		"agentId":      "agent-7",
		"agentDomain":  "agents.example",
		"playerName":   "Red",
		"signature":    "0xdead",
		"timestamp":    float64(1700000000000),
		"targetRoom":   "admin",
	}

	p, err := FromDataPart("m-1", data)
	require.NoError(t, err)
	assert.Equal(t, "m-1", p.MessageID)
	assert.Equal(t, int64(1700000000000), p.Timestamp)
	assert.Equal(t, "move-to-room", p.SkillID)
	assert.Equal(t, "0xabc", p.Address)

	// Identity and auth fields never leak into the signed scope.
	assert.Equal(t, map[string]any{"targetRoom": "admin"}, p.SkillData)
}

func TestFromDataPart_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"no signature", map[string]any{"agentAddress": "0xabc", "timestamp": float64(1)}},
		{"no address", map[string]any{"signature": "0x1", "timestamp": float64(1)}},
		{"no timestamp", map[string]any{"signature": "0x1", "agentAddress": "0xabc"}},
		{"empty", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromDataPart("m", tt.data)
			assert.ErrorIs(t, err, ErrMissingAuthFields)
		})
	}
}

func TestFromDataPart_StringTimestamp(t *testing.T) {
	p, err := FromDataPart("m", map[string]any{
		"signature":    "0x1",
		"agentAddress": "0xabc",
		"timestamp":    "1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), p.Timestamp)
}

func TestRecoverAddress_BadSignatures(t *testing.T) {
	payload := []byte(`{"message_id":"m"}`)

	_, err := RecoverAddress(payload, "not-hex")
	assert.Error(t, err)

	_, err = RecoverAddress(payload, "0xdeadbeef")
	assert.Error(t, err, "wrong length")
}

func TestCanonicalPayload_SortedAndStable(t *testing.T) {
	p := &SignedPayload{
		MessageID: "m-1",
		Timestamp: 42,
		SkillID:   "vote",
		SkillData: map[string]any{
			"zebra": "last",
			"alpha": float64(1),
			"nested": map[string]any{
				"b": []any{"x", float64(2)},
				"a": nil,
			},
		},
	}

	got, err := CanonicalPayload(p)
	require.NoError(t, err)

	want := `{"message_id":"m-1","skill_id":"vote","skill_only_data":{"alpha":1,"nested":{"a":null,"b":["x",2]},"zebra":"last"},"timestamp":42}`
	assert.Equal(t, want, string(got))

	// Same input always canonicalizes identically.
	again, err := CanonicalPayload(p)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
