package transfer

import (
	"encoding/base64"
	"fmt"
	"strings"

	"lanshare/models"
)

// SplitDataURL separates "data:<mime>;base64,<payload>" into its MIME type and payload.
// Input without a comma is treated as raw base64.
func SplitDataURL(value string) (mimeType, payload string) {
	idx := strings.IndexByte(value, ',')
	if idx < 0 {
		return "", value
	}
	header := value[:idx]
	payload = value[idx+1:]

	header = strings.TrimPrefix(header, "data:")
	header = strings.TrimSuffix(header, ";base64")
	return header, payload
}

// DecodeFile returns the bytes carried by one inbound file and its best-known MIME type.
func DecodeFile(file models.EncodedFile) ([]byte, string, error) {
	headerType, payload := SplitDataURL(file.Base64)
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(payload)
		if rawErr != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrInvalidBase64, file.Name, err)
		}
		data = raw
	}

	fileType := file.Type
	if fileType == "" {
		fileType = mediaType(headerType)
	}
	return data, fileType, nil
}
