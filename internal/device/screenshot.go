// internal/device/screenshot.go
package device

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// JPEGQuality is the encoder quality used for every capture.
const JPEGQuality = 90

// EncodeImage renders img as a JPEG data URI handle.
func EncodeImage(img image.Image) (schemas.ScreenshotHandle, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return JPEGHandle(buf.Bytes()), nil
}

// TranscodeToHandle decodes a PNG or JPEG capture and re-encodes it as a
// JPEG data URI handle.
func TranscodeToHandle(raw []byte) (schemas.ScreenshotHandle, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode screen capture: %w", err)
	}
	return EncodeImage(img)
}

// JPEGHandle wraps already-encoded JPEG bytes.
func JPEGHandle(data []byte) schemas.ScreenshotHandle {
	return schemas.ScreenshotHandle("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data))
}
