package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const sessionFormatVersionCurrent = 1

// Encode serializes s into the compact binary format stored in Redis.
//
// Layout (v1): version, then u8-length-prefixed ID, UserID, RefreshTokenHash
// and IPAddress, a u16-length-prefixed DeviceInfo, then four big-endian int64
// unix-nano timestamps (created, expires, last accessed, revoked; 0 = unset).
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"id", s.ID},
		{"userID", s.UserID},
		{"refreshTokenHash", s.RefreshTokenHash},
		{"ipAddress", s.IPAddress},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	if len(s.DeviceInfo) > 0xFFFF {
		return nil, errors.New("deviceInfo too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.DeviceInfo))); err != nil {
		return nil, err
	}
	buf.WriteString(s.DeviceInfo)

	for _, ts := range []time.Time{s.CreatedAt, s.ExpiresAt, s.LastAccessedAt, s.RevokedAt} {
		if err := binary.Write(&buf, binary.BigEndian, unixNano(ts)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	for _, dst := range []*string{&s.ID, &s.UserID, &s.RefreshTokenHash, &s.IPAddress} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if *dst, err = readString(reader, int(n)); err != nil {
			return nil, err
		}
	}

	var deviceLen uint16
	if err := binary.Read(reader, binary.BigEndian, &deviceLen); err != nil {
		return nil, err
	}
	if s.DeviceInfo, err = readString(reader, int(deviceLen)); err != nil {
		return nil, err
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.ExpiresAt, &s.LastAccessedAt, &s.RevokedAt} {
		var ns int64
		if err := binary.Read(reader, binary.BigEndian, &ns); err != nil {
			return nil, err
		}
		*dst = fromUnixNano(ns)
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func readString(r *bytes.Reader, n int) (string, error) {
	if n > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
