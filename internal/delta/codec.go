package delta

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/adred-codev/ws_poc/internal/hlc"
)

// Binary wire encoding for a single Delta.
//
// The format is a length-prefixed, tag-free record (spec.md calls this
// "protobuf-style": every variable-length field is prefixed by its byte
// length so a reader can skip fields without a schema). Fixed fields:
//
//	byte    op            (0=INSERT,1=UPDATE,2=DELETE)
//	uint64  hlc           (big-endian)
//	uvarint tableLen + table bytes
//	uvarint rowIdLen + rowId bytes
//	uvarint clientIdLen + clientId bytes
//	uvarint deltaIdLen + deltaId bytes
//	uvarint columnCount
//	  per column: uvarint nameLen + name, uvarint jsonValueLen + json bytes
func opByte(o Op) (byte, error) {
	switch o {
	case OpInsert:
		return 0, nil
	case OpUpdate:
		return 1, nil
	case OpDelete:
		return 2, nil
	default:
		return 0, fmt.Errorf("delta: unknown op %q", o)
	}
}

func byteOp(b byte) (Op, error) {
	switch b {
	case 0:
		return OpInsert, nil
	case 1:
		return OpUpdate, nil
	case 2:
		return OpDelete, nil
	default:
		return "", fmt.Errorf("delta: unknown op byte 0x%02x", b)
	}
}

func appendUvarintBytes(buf []byte, data []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(data)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, data...)
	return buf
}

func readUvarintBytes(buf []byte) (data []byte, rest []byte, err error) {
	l, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, nil, fmt.Errorf("delta: malformed length prefix")
	}
	buf = buf[n:]
	if uint64(len(buf)) < l {
		return nil, nil, fmt.Errorf("delta: truncated field: want %d bytes, have %d", l, len(buf))
	}
	return buf[:l], buf[l:], nil
}

// EncodeBinary serialises a Delta into its wire form.
func EncodeBinary(d Delta) ([]byte, error) {
	ob, err := opByte(d.Op)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64+len(d.Table)+len(d.RowID)+len(d.ClientID)+len(d.DeltaID))
	buf = append(buf, ob)

	var hlcBytes [8]byte
	binary.BigEndian.PutUint64(hlcBytes[:], uint64(d.HLC))
	buf = append(buf, hlcBytes[:]...)

	buf = appendUvarintBytes(buf, []byte(d.Table))
	buf = appendUvarintBytes(buf, []byte(d.RowID))
	buf = appendUvarintBytes(buf, []byte(d.ClientID))
	buf = appendUvarintBytes(buf, []byte(d.DeltaID))

	var countTmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countTmp[:], uint64(len(d.Columns)))
	buf = append(buf, countTmp[:n]...)

	for _, c := range d.Columns {
		valueJSON, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("delta: encode column %q: %w", c.Column, err)
		}
		buf = appendUvarintBytes(buf, []byte(c.Column))
		buf = appendUvarintBytes(buf, valueJSON)
	}

	return buf, nil
}

// DecodeBinary parses a Delta from its wire form, returning the delta
// and the number of bytes consumed from buf.
func DecodeBinary(buf []byte) (Delta, int, error) {
	orig := buf
	if len(buf) < 1+8 {
		return Delta{}, 0, fmt.Errorf("delta: truncated record header")
	}

	op, err := byteOp(buf[0])
	if err != nil {
		return Delta{}, 0, err
	}
	buf = buf[1:]

	h := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]

	table, buf, err := readUvarintBytes(buf)
	if err != nil {
		return Delta{}, 0, fmt.Errorf("delta: table: %w", err)
	}
	rowID, buf, err := readUvarintBytes(buf)
	if err != nil {
		return Delta{}, 0, fmt.Errorf("delta: rowId: %w", err)
	}
	clientID, buf, err := readUvarintBytes(buf)
	if err != nil {
		return Delta{}, 0, fmt.Errorf("delta: clientId: %w", err)
	}
	deltaID, buf, err := readUvarintBytes(buf)
	if err != nil {
		return Delta{}, 0, fmt.Errorf("delta: deltaId: %w", err)
	}

	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return Delta{}, 0, fmt.Errorf("delta: malformed column count")
	}
	buf = buf[n:]

	var columns []Column
	if count > 0 {
		columns = make([]Column, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		var name, valueJSON []byte
		name, buf, err = readUvarintBytes(buf)
		if err != nil {
			return Delta{}, 0, fmt.Errorf("delta: column %d name: %w", i, err)
		}
		valueJSON, buf, err = readUvarintBytes(buf)
		if err != nil {
			return Delta{}, 0, fmt.Errorf("delta: column %d value: %w", i, err)
		}
		var v any
		if err := json.Unmarshal(valueJSON, &v); err != nil {
			return Delta{}, 0, fmt.Errorf("delta: column %d value json: %w", i, err)
		}
		columns = append(columns, Column{Column: string(name), Value: v})
	}

	d := Delta{
		Op:       op,
		Table:    string(table),
		RowID:    string(rowID),
		ClientID: string(clientID),
		Columns:  columns,
		HLC:      hlc.Timestamp(h),
		DeltaID:  string(deltaID),
	}
	consumed := len(orig) - len(buf)
	return d, consumed, nil
}

// EncodeBinaryList encodes a slice of deltas as a uvarint count followed
// by each delta's own length-prefixed record.
func EncodeBinaryList(deltas []Delta) ([]byte, error) {
	var countTmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countTmp[:], uint64(len(deltas)))
	buf := append([]byte{}, countTmp[:n]...)

	for _, d := range deltas {
		rec, err := EncodeBinary(d)
		if err != nil {
			return nil, err
		}
		buf = appendUvarintBytes(buf, rec)
	}
	return buf, nil
}

// DecodeBinaryList parses a slice of deltas written by EncodeBinaryList.
func DecodeBinaryList(buf []byte) ([]Delta, error) {
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, fmt.Errorf("delta: malformed list count")
	}
	buf = buf[n:]

	out := make([]Delta, 0, count)
	for i := uint64(0); i < count; i++ {
		rec, rest, err := readUvarintBytes(buf)
		if err != nil {
			return nil, fmt.Errorf("delta: list entry %d: %w", i, err)
		}
		buf = rest
		d, _, err := DecodeBinary(rec)
		if err != nil {
			return nil, fmt.Errorf("delta: list entry %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}
