// Package auth verifies the per-message signatures that gate every
// state-changing call. Agents sign a canonical JSON scope with their
// on-chain key; the server recovers the signer, matches it against the
// claimed address, and confirms registration with the identity registry.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/identity"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

const (
	// MaxMessageAge is how far in the past a message timestamp may lie.
	MaxMessageAge = 5 * time.Minute
	// MaxClockSkew is how far in the future a message timestamp may lie.
	MaxClockSkew = 60 * time.Second
)

// identityFields are stripped from the data part to form skill_only_data.
// The signature never covers identity or auth material.
var identityFields = map[string]bool{
	"agentId":      true,
	"agentAddress": true,
	"agentDomain":  true,
	"playerName":   true,
	"signature":    true,
	"timestamp":    true,
	"skillId":      true,
}

// ErrMissingAuthFields is returned for any message lacking a signature,
// timestamp, or claimed address. The rejection is uniform on purpose.
var ErrMissingAuthFields = errors.New("message is missing signature, timestamp, or agentAddress")

// SignedPayload is the auth-relevant projection of a message's data part.
type SignedPayload struct {
	MessageID string
	Timestamp int64 // unix milliseconds
	SkillID   string
	Address   string
	Signature string
	// SkillData is the data part with all identity and auth fields removed.
	SkillData map[string]any
}

// FromDataPart extracts the signed payload from a message's data part.
// messageID comes from the envelope, not the data part.
func FromDataPart(messageID string, data map[string]any) (*SignedPayload, error) {
	sig, _ := data["signature"].(string)
	addr, _ := data["agentAddress"].(string)
	ts, tsOK := timestampOf(data["timestamp"])
	if sig == "" || addr == "" || !tsOK {
		return nil, ErrMissingAuthFields
	}

	skillID, _ := data["skillId"].(string)

	skillData := make(map[string]any, len(data))
	for k, v := range data {
		if identityFields[k] {
			continue
		}
		skillData[k] = v
	}

	return &SignedPayload{
		MessageID: messageID,
		Timestamp: ts,
		SkillID:   skillID,
		Address:   addr,
		Signature: sig,
		SkillData: skillData,
	}, nil
}

func timestampOf(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case string:
		ts, err := strconv.ParseInt(t, 10, 64)
		return ts, err == nil
	default:
		return 0, false
	}
}

// Verifier checks message freshness, signer recovery, and registration.
type Verifier struct {
	registry identity.Verifier
	now      func() time.Time
}

// NewVerifier creates a Verifier backed by the given registry.
func NewVerifier(registry identity.Verifier) *Verifier {
	return &Verifier{registry: registry, now: time.Now}
}

// Verify runs the full authentication pipeline. It must be called before
// any state mutation; a non-nil error means the message has no effect.
func (v *Verifier) Verify(ctx context.Context, p *SignedPayload) error {
	now := v.now()
	sent := time.UnixMilli(p.Timestamp)

	if now.Sub(sent) > MaxMessageAge {
		metrics.SignatureFailures.WithLabelValues("stale").Inc()
		return fmt.Errorf("message too old: sent %s, now %s", sent.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if sent.Sub(now) > MaxClockSkew {
		metrics.SignatureFailures.WithLabelValues("future").Inc()
		return fmt.Errorf("message timestamp is in the future: sent %s, now %s", sent.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	payload, err := CanonicalPayload(p)
	if err != nil {
		metrics.SignatureFailures.WithLabelValues("malformed").Inc()
		return fmt.Errorf("canonicalize signed payload: %w", err)
	}

	recovered, err := RecoverAddress(payload, p.Signature)
	if err != nil {
		metrics.SignatureFailures.WithLabelValues("malformed").Inc()
		return fmt.Errorf("recover signer: %w", err)
	}

	if !strings.EqualFold(recovered, p.Address) {
		metrics.SignatureFailures.WithLabelValues("mismatch").Inc()
		logging.Warn(ctx, "signature address mismatch",
			zap.String("recovered", logging.RedactAddress(recovered)),
			zap.String("claimed", logging.RedactAddress(p.Address)))
		return fmt.Errorf("signature is from %s but claiming to be %s", recovered, p.Address)
	}

	registered, err := v.registry.IsRegistered(ctx, recovered)
	if err != nil {
		metrics.SignatureFailures.WithLabelValues("registry_error").Inc()
		return fmt.Errorf("identity registry: %w", err)
	}
	if !registered {
		metrics.SignatureFailures.WithLabelValues("unregistered").Inc()
		return fmt.Errorf("agent %s is not registered", recovered)
	}

	return nil
}

// RecoverAddress recovers the signing address from an Ethereum
// personal-sign signature over payload.
func RecoverAddress(payload []byte, sigHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(raw))
	}

	// Wallets emit V as 27/28; SigToPub expects 0/1.
	sig := make([]byte, len(raw))
	copy(sig, raw)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	digest := crypto.Keccak256([]byte(prefixed))

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
