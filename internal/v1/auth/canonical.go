package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalPayload renders the bytes an agent must sign: a deterministic
// JSON object over {message_id, timestamp, skill_id, skill_only_data} with
// recursively sorted keys. Both sides of the wire depend on this exact
// scope; a client that signs anything else is rejected.
func CanonicalPayload(p *SignedPayload) ([]byte, error) {
	doc := map[string]any{
		"message_id":      p.MessageID,
		"timestamp":       p.Timestamp,
		"skill_id":        p.SkillID,
		"skill_only_data": p.SkillData,
	}
	var buf bytes.Buffer
	if err := appendCanonical(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// appendCanonical writes v as JSON with object keys in sorted order.
func appendCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := appendCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case nil:
		buf.WriteString("null")
		return nil

	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canonicalize %T: %w", v, err)
		}
		buf.Write(b)
		return nil
	}
}
