package progress

import (
	"bytes"

	"github.com/pkg/errors"
)

// The resume blob is a tagged opaque value: "<content type>:" followed by the player payload,
// byte for byte. The engine only ever looks at the tag.
const resumeTagSep = ':'

// EncodeResume tags payload with its content type. Payloads above the ceiling of the type are
// rejected with ErrPayloadTooLarge, never truncated.
func EncodeResume(ct ContentType, payload []byte) ([]byte, error) {
	if len(payload) > ct.ResumeLimit() {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes, %s allows %d", len(payload), ct, ct.ResumeLimit())
	}
	tag := ct.String()
	blob := make([]byte, 0, len(tag)+1+len(payload))
	blob = append(blob, tag...)
	blob = append(blob, resumeTagSep)
	return append(blob, payload...), nil
}

// DecodeResume returns the payload stored by EncodeResume. A nil blob decodes to a nil payload
// (no resume available).
func DecodeResume(ct ContentType, blob []byte) ([]byte, error) {
	if blob == nil {
		return nil, nil
	}
	tag := append([]byte(ct.String()), resumeTagSep)
	if !bytes.HasPrefix(blob, tag) {
		return nil, ErrCorruptResume
	}
	payload := make([]byte, len(blob)-len(tag))
	copy(payload, blob[len(tag):])
	return payload, nil
}
