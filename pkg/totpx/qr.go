package totpx

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/pquerna/otp"
)

// QRRenderer turns a provisioning URI into a PNG QR code.
type QRRenderer struct {
	Size int
}

// PNG renders uri. Size defaults to 256 pixels square.
func (r QRRenderer) PNG(uri string) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = 256
	}

	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("totpx: parse provisioning uri: %w", err)
	}

	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("totpx: render qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("totpx: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
