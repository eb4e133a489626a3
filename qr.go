package main

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/mdp/qrterminal"
	"github.com/skip2/go-qrcode"
)

// qrDataURL encodes a pairing challenge as a PNG data URL for the status page.
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// printQR draws the challenge on a terminal so it can be scanned from the logs.
func printQR(w io.Writer, code string) {
	if w == nil {
		return
	}
	qrterminal.Generate(code, qrterminal.L, w)
}
