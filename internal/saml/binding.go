package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
)

// Redirect-bound messages are DEFLATE compressed (raw, no zlib header)
// then base64 encoded, per SAML 2.0 Bindings section 3.4.4.1. POST-bound
// messages are base64 only.

// inflatedSizeLimit bounds decompression so a tiny crafted payload cannot
// expand without limit.
const inflatedSizeLimit = 1 << 20

func deflateEncode(data []byte) (string, error) {
	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to flush compressed data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

func inflateDecode(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64 decode: %w", err)
	}

	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(reader, inflatedSizeLimit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(decompressed) > inflatedSizeLimit {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", inflatedSizeLimit)
	}
	return decompressed, nil
}
