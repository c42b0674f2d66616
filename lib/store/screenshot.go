// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Screenshots are stored inside the scan row as text. Full-page PNGs
// compress well under zstd, and base64 keeps the column plain text
// for any client that reads the record directly.

var (
	screenshotEncoder, _ = zstd.NewWriter(nil)
	screenshotDecoder, _ = zstd.NewReader(nil)
)

// EncodeScreenshot compresses and encodes a raw PNG for storage,
// returning the text form and the blake3 hex digest of the raw bytes.
func EncodeScreenshot(raw []byte) (encoded string, hash string) {
	if len(raw) == 0 {
		return "", ""
	}
	digest := blake3.Sum256(raw)
	compressed := screenshotEncoder.EncodeAll(raw, nil)
	return base64.StdEncoding.EncodeToString(compressed), hex.EncodeToString(digest[:])
}

// DecodeScreenshot reverses EncodeScreenshot.
func DecodeScreenshot(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("store: screenshot base64: %w", err)
	}
	raw, err := screenshotDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("store: screenshot zstd: %w", err)
	}
	return raw, nil
}
