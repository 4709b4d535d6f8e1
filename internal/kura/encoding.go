package kura

import (
	"bytes"
	"encoding/gob"

	"iroha-peer/internal/datamodel"
)

// encodeSignedBlock/decodeSignedBlock are Kura's on-disk record codec.
// This is deliberately separate from the canonical hashing encoding: the
// wire/hash encoding must never change shape, but the local
// disk record format is free to evolve (e.g. add compression) without
// touching a single block hash.
func encodeSignedBlock(b *datamodel.SignedBlock) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSignedBlock(data []byte) (*datamodel.SignedBlock, error) {
	var b datamodel.SignedBlock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
