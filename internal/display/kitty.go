package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

// Kitty graphics protocol: a=T transmits and displays, f=100 marks the
// payload as PNG/JPEG bytes, q=2 suppresses terminal responses. Payloads
// over one chunk are continued with m=1 and closed with m=0.
const (
	kittyPrefix    = "\x1b_G"
	kittySuffix    = "\x1b\\"
	kittyChunkSize = 4096
)

// writeKitty emits image bytes as kitty graphics escape sequences.
func writeKitty(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	payload := base64.StdEncoding.EncodeToString(data)
	if len(payload) <= kittyChunkSize {
		_, err := fmt.Fprintf(w, "%sa=T,f=100,q=2;%s%s", kittyPrefix, payload, kittySuffix)
		return err
	}

	for first := true; len(payload) > 0; first = false {
		n := kittyChunkSize
		if n > len(payload) {
			n = len(payload)
		}
		chunk, rest := payload[:n], payload[n:]

		params := "m=1"
		switch {
		case first:
			params = "a=T,f=100,q=2,m=1"
		case len(rest) == 0:
			params = "m=0"
		}

		if _, err := fmt.Fprintf(w, "%s%s;%s%s", kittyPrefix, params, chunk, kittySuffix); err != nil {
			return err
		}
		payload = rest
	}

	return nil
}
