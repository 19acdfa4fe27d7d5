// Package nostr implements the client side of the relay wire protocol:
// events, filters, tag decoding, kind classification, and signing.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event represents a signed relay event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// ComputeEventID returns the event id: SHA256 of the canonical JSON
// serialization [0, pubkey, created_at, kind, tags, content].
//
// HTML escaping must be disabled: relays expect unescaped JSON, and Go's
// json.Marshal escapes <, > and & by default.
func ComputeEventID(evt *Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{
		0,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		tags,
		evt.Content,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.Encode(serialized)

	// Encoder.Encode adds a trailing newline, remove it
	jsonBytes := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}

// Sign fills in PubKey, ID and Sig from the given private key (hex).
func Sign(evt *Event, privKeyHex string) error {
	privBytes, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return err
	}
	privKey, _ := btcec.PrivKeyFromBytes(privBytes)

	pubKey := privKey.PubKey()
	// x-only pubkey: drop the 0x02/0x03 prefix byte
	evt.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pubKey))
	evt.ID = ComputeEventID(evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return err
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// VerifySignature verifies the Schnorr signature of an event against its id.
func VerifySignature(evt *Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// ParseEventFromInterface converts raw websocket data to Event (avoids JSON re-encoding)
func ParseEventFromInterface(data interface{}) (Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return Event{}, false
	}

	evt := Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	if tags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(tags))
		for _, tag := range tags {
			if tagArr, ok := tag.([]interface{}); ok {
				strTag := make([]string, 0, len(tagArr))
				for _, elem := range tagArr {
					if s, ok := elem.(string); ok {
						strTag = append(strTag, s)
					}
				}
				evt.Tags = append(evt.Tags, strTag)
			}
		}
	}

	// Relays are untrusted: the id must match the content it claims to
	// commit to, and the signature must match the id.
	if evt.Sig != "" {
		if ComputeEventID(&evt) != evt.ID {
			slog.Warn("event id does not match content", "event_id", ShortID(evt.ID))
			return Event{}, false
		}
		if !VerifySignature(&evt) {
			slog.Warn("event signature validation failed", "event_id", ShortID(evt.ID))
			return Event{}, false
		}
	}

	return evt, evt.ID != ""
}

// ShortID truncates an id/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
