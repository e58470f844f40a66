package hub

import (
	"crypto/rand"
	"math/big"
)

const (
	idCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	idLength  = 8
)

// GenerateID returns a short random game id that is easy to read out loud.
func GenerateID() (string, error) {
	id := make([]byte, idLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idCharset))))
		if err != nil {
			return "", err
		}
		id[i] = idCharset[n.Int64()]
	}
	return string(id), nil
}
