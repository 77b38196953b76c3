package compiler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Event is one matched source record in the form it is hashed and stored.
type Event map[string]any

// PlanSignature hashes the fields of p that affect which events match. The
// raw DSL text is display-only and excluded.
func PlanSignature(p Plan) string {
	var minSentiment any
	if p.MinSentiment != nil {
		minSentiment = *p.MinSentiment
	}
	return digest(map[string]any{
		"source":         p.Source,
		"window_minutes": p.WindowMinutes,
		"tickers":        nonNil(p.Tickers),
		"categories":     nonNil(p.Categories),
		"sectors":        nonNil(p.Sectors),
		"keywords":       nonNil(p.Keywords),
		"entities":       nonNil(p.Entities),
		"min_sentiment":  minSentiment,
	})
}

// SnapshotDigest hashes a set of events independent of their order.
func SnapshotDigest(events []Event) string {
	serialized := make([]string, 0, len(events))
	for _, e := range events {
		b, err := canonicalJSON(e)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", map[string]any(e)))
		}
		serialized = append(serialized, string(b))
	}
	sort.Strings(serialized)
	return digest(serialized)
}

// TriggerSignature identifies one (plan, event set) notification.
func TriggerSignature(planSignature, eventHash string) string {
	sum := sha256.Sum256([]byte(planSignature + ":" + eventHash))
	return hex.EncodeToString(sum[:])
}

func digest(v any) string {
	b, err := canonicalJSON(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON encodes v compactly with sorted map keys and unescaped
// UTF-8.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
