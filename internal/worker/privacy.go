package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	maskedPrefixLen = 3
	fingerprintLen  = 8
)

// Fingerprinter derives an opaque, keyed correlation token from a sender id.
// Tokens are stable for a given key; with a random key they only correlate
// events within one process lifetime.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter builds a Fingerprinter. An empty key is replaced with a
// random one.
func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("fingerprint: key longer than %d bytes", blake2b.Size)
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("fingerprint: generate key: %w", err)
		}
	}
	return &Fingerprinter{key: append([]byte(nil), key...)}, nil
}

// Sum returns the hex encoded fingerprint of sender.
func (f *Fingerprinter) Sum(sender string) string {
	h, err := blake2b.New256(f.key)
	if err != nil {
		// key length is checked in NewFingerprinter
		return ""
	}
	h.Write([]byte(normalizeSender(sender)))
	return hex.EncodeToString(h.Sum(nil)[:fingerprintLen])
}

// MaskSender keeps the first characters of the sender's number and drops the
// rest, so log lines never carry a full identifier.
func MaskSender(sender string) string {
	s := normalizeSender(sender)
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) > maskedPrefixLen {
		runes = runes[:maskedPrefixLen]
	}
	return string(runes) + "..."
}

// normalizeSender drops transport prefixes and JID domains, e.g.
// "whatsapp:+34600111222" and "34600111222@s.whatsapp.net" both become
// "34600111222".
func normalizeSender(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "+")
}
