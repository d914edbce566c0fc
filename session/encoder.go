package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// CurrentSchemaVersion is the schema byte written by Encode.
const CurrentSchemaVersion = 2

const (
	schemaV1 = 1
	schemaV2 = 2
)

const flagRevoked = 1 << 0

// Encode serializes r in the current schema. SessionID is not part of the
// blob; it is the storage key.
//
//	v1: owner, device, created, lastSeen, expires, flags
//	v2: v1 + label, revokedAt
//
// Strings are length-prefixed with one byte; times are big-endian Unix
// milliseconds, zero meaning unset.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	if err := writeString(&buf, r.Owner, "owner"); err != nil {
		return nil, err
	}
	if err := writeString(&buf, r.DeviceID, "deviceID"); err != nil {
		return nil, err
	}
	for _, ts := range []time.Time{r.CreatedAt, r.LastSeenAt, r.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, unixMilli(ts)); err != nil {
			return nil, err
		}
	}
	var flags byte
	if r.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	if err := writeString(&buf, r.DeviceLabel, "label"); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, unixMilli(r.RevokedAt)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses any supported schema version.
func Decode(data []byte) (*Record, error) {
	r, _, err := decode(data)
	return r, err
}

func decode(data []byte) (*Record, byte, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	if version != schemaV1 && version != schemaV2 {
		return nil, version, ErrUnsupportedVersion
	}

	r := &Record{}
	if r.Owner, err = readString(reader); err != nil {
		return nil, version, err
	}
	if r.DeviceID, err = readString(reader); err != nil {
		return nil, version, err
	}
	for _, dst := range []*time.Time{&r.CreatedAt, &r.LastSeenAt, &r.ExpiresAt} {
		if *dst, err = readTime(reader); err != nil {
			return nil, version, err
		}
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, version, err
	}
	r.Revoked = flags&flagRevoked != 0

	if version >= schemaV2 {
		if r.DeviceLabel, err = readString(reader); err != nil {
			return nil, version, err
		}
		if r.RevokedAt, err = readTime(reader); err != nil {
			return nil, version, err
		}
	}

	if reader.Len() != 0 {
		return nil, version, errors.New("trailing bytes in session record")
	}
	return r, version, nil
}

func writeString(buf *bytes.Buffer, s, field string) error {
	if len(s) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readTime(reader *bytes.Reader) (time.Time, error) {
	var ms int64
	if err := binary.Read(reader, binary.BigEndian, &ms); err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
