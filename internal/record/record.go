// Package record implements the field-level byte encoding shared by both
// page formats (spec.md §4.8 "Record encoding").
package record

import (
	"fmt"
	"strconv"

	"github.com/sgbd-go/sgbd/internal/catalog"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// EncodeFixed lays out values as space-padded, size-truncated fields
// concatenated in schema order, for a fixed relation's record_size bytes.
// Overflow (a value longer than its field size) is truncated; truncateOK
// controls whether that's silently accepted (CSV load) or treated as an
// error (explicit insert), per spec.md §4.8.
func EncodeFixed(fields []catalog.Field, values []string, truncateOK bool) ([]byte, error) {
	if len(values) != len(fields) {
		return nil, fmt.Errorf("%w: got %d values, want %d fields", sgerrors.ErrSchemaMismatch, len(values), len(fields))
	}

	out := make([]byte, 0, sumSizes(fields))
	for i, f := range fields {
		v := values[i]
		if len(v) > f.Size && !truncateOK {
			return nil, fmt.Errorf("%w: field %q value %q exceeds size %d", sgerrors.ErrSchemaMismatch, f.Name, v, f.Size)
		}
		buf := make([]byte, f.Size)
		for j := range buf {
			buf[j] = ' '
		}
		copy(buf, v)
		out = append(out, buf...)
	}
	return out, nil
}

// DecodeFixed splits a fixed-relation record back into its raw (still
// space-padded) per-field byte slices.
func DecodeFixed(fields []catalog.Field, raw []byte) ([][]byte, error) {
	if len(raw) != sumSizes(fields) {
		return nil, fmt.Errorf("%w: record is %d bytes, schema wants %d", sgerrors.ErrInvalidPage, len(raw), sumSizes(fields))
	}
	out := make([][]byte, len(fields))
	off := 0
	for i, f := range fields {
		out[i] = raw[off : off+f.Size]
		off += f.Size
	}
	return out, nil
}

func sumSizes(fields []catalog.Field) int {
	total := 0
	for _, f := range fields {
		total += f.Size
	}
	return total
}

// intFieldWidth3 is the width of a sub-header's relative_offset and length
// fields: 3-char ASCII decimal, per spec.md §3.
const intFieldWidth3 = 3

// subHeaderSize is the per-field (relative_offset, length) prefix written
// ahead of a variable record's concatenated field bytes: two 3-char ASCII
// fields, so 6 bytes per field (spec.md §3).
const subHeaderSize = 2 * intFieldWidth3

func encodeInt3(v int) (string, error) {
	if v < 0 || v > 999 {
		return "", fmt.Errorf("%w: value %d does not fit in a 3-char field", sgerrors.ErrInvalidArgument, v)
	}
	return fmt.Sprintf("%0*d", intFieldWidth3, v), nil
}

func decodeInt3(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed 3-char int field %q", sgerrors.ErrInvalidPage, s)
	}
	return v, nil
}

// EncodeVariable lays out a variable relation's record as a sub-header of
// one (relative_offset, length) pair per field, each a 3-char ASCII decimal
// int, followed by the concatenated field bytes (spec.md §3's "per-record
// sub-header precedes concatenated field bytes"). relative_offset is the
// byte offset of the field's data relative to the start of the payload
// region, i.e. the end of the sub-header block.
func EncodeVariable(values []string) ([]byte, error) {
	header := make([]byte, subHeaderSize*len(values))
	var payload []byte
	relOff := 0
	for i, v := range values {
		offStr, err := encodeInt3(relOff)
		if err != nil {
			return nil, err
		}
		lenStr, err := encodeInt3(len(v))
		if err != nil {
			return nil, err
		}
		base := i * subHeaderSize
		copy(header[base:base+intFieldWidth3], offStr)
		copy(header[base+intFieldWidth3:base+subHeaderSize], lenStr)

		payload = append(payload, v...)
		relOff += len(v)
	}
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// DecodeVariable splits a variable record back into its field strings,
// given the number of fields in the schema. The stored relative_offset is
// authoritative: fields are read from it directly rather than recomputed
// from the running sum of preceding lengths.
func DecodeVariable(raw []byte, numFields int) ([]string, error) {
	headerLen := subHeaderSize * numFields
	if len(raw) < headerLen {
		return nil, fmt.Errorf("%w: variable record too short for %d fields", sgerrors.ErrInvalidPage, numFields)
	}

	relOffsets := make([]int, numFields)
	lengths := make([]int, numFields)
	maxEnd := 0
	for i := 0; i < numFields; i++ {
		base := i * subHeaderSize
		relOff, err := decodeInt3(string(raw[base : base+intFieldWidth3]))
		if err != nil {
			return nil, err
		}
		length, err := decodeInt3(string(raw[base+intFieldWidth3 : base+subHeaderSize]))
		if err != nil {
			return nil, err
		}
		relOffsets[i] = relOff
		lengths[i] = length
		if end := relOff + length; end > maxEnd {
			maxEnd = end
		}
	}
	if len(raw) != headerLen+maxEnd {
		return nil, fmt.Errorf("%w: variable record length mismatch", sgerrors.ErrInvalidPage)
	}

	out := make([]string, numFields)
	for i := range out {
		start := headerLen + relOffsets[i]
		out[i] = string(raw[start : start+lengths[i]])
	}
	return out, nil
}
