package dingtalk

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"

	"github.com/disintegration/imaging"
)

// maxWebhookImageBytes caps the raw image bytes of an inline webhook image.
const maxWebhookImageBytes = 15 * 1024

const shrinkMaxSide = 256

var shrinkQualities = []int{85, 70, 55, 40}

// shrinkImage fits an image into 256x256 and re-encodes it as JPEG at falling
// quality until it fits limit. ok is false when decoding fails or no quality
// level fits.
func shrinkImage(data []byte, limit int) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	img = imaging.Fit(img, shrinkMaxSide, shrinkMaxSide, imaging.Lanczos)

	var buf bytes.Buffer
	for _, q := range shrinkQualities {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, false
		}
		if buf.Len() <= limit {
			return bytes.Clone(buf.Bytes()), true
		}
	}
	return nil, false
}

// inlineImagePayload returns the base64 body and hex MD5 digest for a webhook
// image message, or PayloadTooLargeError when data exceeds the cap.
func inlineImagePayload(data []byte, shrink bool) (b64, md5hex string, err error) {
	if len(data) > maxWebhookImageBytes && shrink {
		if small, ok := shrinkImage(data, maxWebhookImageBytes); ok {
			data = small
		}
	}
	if len(data) > maxWebhookImageBytes {
		return "", "", &PayloadTooLargeError{Size: len(data), Limit: maxWebhookImageBytes}
	}
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(data), hex.EncodeToString(sum[:]), nil
}
