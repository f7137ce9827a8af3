package relay

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/suPer8Hu/ai-relay/internal/codec"
	"github.com/suPer8Hu/ai-relay/internal/history"
	"github.com/suPer8Hu/ai-relay/internal/sessioncache"
	"github.com/zeebo/blake3"
)

// State is what a session record carries between turns.
type State struct {
	UserID      string            `cbor:"user_id"`
	ContextType string            `cbor:"context_type"`
	ProductID   string            `cbor:"product_id,omitempty"`
	Turns       []history.Turn    `cbor:"turns"`
	UsedTokens  int               `cbor:"used_tokens"`
	Tokenizer   string            `cbor:"tokenizer,omitempty"`
	Metadata    map[string]string `cbor:"metadata,omitempty"`
	CreatedUnix int64             `cbor:"created"`
	UpdatedUnix int64             `cbor:"updated"`
}

// sessionDomainKey separates session ids from any other keyed hash built on
// the same secret. ASCII, zero padded to 32 bytes.
var sessionDomainKey = [32]byte{
	'a', 'i', '-', 'r', 'e', 'l', 'a', 'y', '.', 's', 'e', 's', 's', 'i', 'o', 'n',
	'.', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SessionKeyer derives stable session ids: the same user, context type and
// UTC calendar day always give the same id.
type SessionKeyer struct {
	key [32]byte
}

// NewSessionKeyer mixes secret into the domain key. An empty secret still
// yields deterministic ids, just guessable ones.
func NewSessionKeyer(secret string) SessionKeyer {
	if secret == "" {
		return SessionKeyer{key: sessionDomainKey}
	}
	material := make([]byte, 0, len(sessionDomainKey)+len(secret))
	material = append(material, sessionDomainKey[:]...)
	material = append(material, secret...)
	return SessionKeyer{key: blake3.Sum256(material)}
}

func (k SessionKeyer) Derive(userID, contextType string, at time.Time) string {
	h, err := blake3.NewKeyed(k.key[:])
	if err != nil {
		panic("relay: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	// NUL separators keep ("ab","c") and ("a","bc") apart.
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(contextType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(at.UTC().Format("2006-01-02")))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// encodeState serializes st canonically and compresses it when large.
func encodeState(c codec.Compressor, id string, st State, now time.Time) (sessioncache.Record, error) {
	raw, err := codec.Marshal(st)
	if err != nil {
		return sessioncache.Record{}, fmt.Errorf("encode session: %w", err)
	}
	wire, compressed, err := c.Encode(raw)
	if err != nil {
		return sessioncache.Record{}, fmt.Errorf("compress session: %w", err)
	}
	return sessioncache.Record{
		ID:         id,
		Payload:    wire,
		Compressed: compressed,
		CreatedAt:  time.Unix(st.CreatedUnix, 0).UTC(),
		UpdatedAt:  now,
		SizeBytes:  len(wire),
	}, nil
}

func decodeState(c codec.Compressor, rec sessioncache.Record) (State, error) {
	raw, err := c.Decode(rec.Payload, rec.Compressed)
	if err != nil {
		return State{}, fmt.Errorf("decompress session %s: %w", rec.ID, err)
	}
	var st State
	if err := codec.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode session %s: %w", rec.ID, err)
	}
	return st, nil
}
