package redisstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/kennelguard/store"
)

const resetRecordVersionV1 = 1

var errResetRecordVersion = errors.New("invalid reset record version")

// Layout: version(1) used(1) identity(8) expires_ms(8) created_ms(8)
// idLen(2) id hashLen(2) hash.
func encodeResetToken(token store.ResetToken) ([]byte, error) {
	if len(token.ID) > 0xffff || len(token.TokenHash) > 0xffff {
		return nil, errors.New("reset record field too long")
	}
	var buf bytes.Buffer
	buf.WriteByte(resetRecordVersionV1)
	if token.Used {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, v := range []int64{token.IdentityID, token.ExpiresAt.UnixMilli(), token.CreatedAt.UnixMilli()} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{token.ID, token.TokenHash} {
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	return buf.Bytes(), nil
}

func decodeResetToken(data []byte) (store.ResetToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return store.ResetToken{}, err
	}
	if version != resetRecordVersionV1 {
		return store.ResetToken{}, errResetRecordVersion
	}
	used, err := reader.ReadByte()
	if err != nil {
		return store.ResetToken{}, err
	}

	var identityID, expiresMS, createdMS int64
	for _, dst := range []*int64{&identityID, &expiresMS, &createdMS} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return store.ResetToken{}, err
		}
	}

	fields := make([]string, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return store.ResetToken{}, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return store.ResetToken{}, err
		}
		fields[i] = string(raw)
	}

	return store.ResetToken{
		ID:         fields[0],
		IdentityID: identityID,
		TokenHash:  fields[1],
		ExpiresAt:  time.UnixMilli(expiresMS),
		Used:       used == 1,
		CreatedAt:  time.UnixMilli(createdMS),
	}, nil
}
