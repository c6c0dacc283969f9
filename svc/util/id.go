package util

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"textdrop/metrics"
	"textdrop/pkg/domain"
)

const (
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLength   = 6
	maxRetries = 5
)

// GenID returns a 6-character base62 id not held by any live record at the
// time the exists check passed. The check is an optimization, not a
// transactional guarantee; the store's uniqueness constraint is the final
// arbiter and callers must treat a conflict on insert as a signal to retry.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < maxRetries; retry++ {
		id, err := randomID()
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
		metrics.IDCollisions.Inc()
	}
	return "", domain.ErrIDGenerationFailed
}

func randomID() (string, error) {
	// Rejection sampling keeps the alphabet distribution uniform. 62*4=248
	// is the largest multiple of 62 below 256.
	const limit = byte(len(idAlphabet) * (256 / len(idAlphabet)))
	out := make([]byte, 0, idLength)
	buf := make([]byte, 16)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidID reports whether the string could have been produced by GenID.
func ValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' {
			continue
		}
		return false
	}
	return true
}
