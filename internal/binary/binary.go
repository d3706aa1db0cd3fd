/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package binary implements the primitive MQTT wire encodings: big
// endian fixed-width integers, length-prefixed UTF-8 strings and the
// variable-byte remaining-length integer.
package binary

import (
	"bytes"
	"io"

	"github.com/yunqi/mqttcore/internal/xerror"
)

func ReadBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] == 1, nil
}

func WriteBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func WriteUint16(w io.Writer, v uint16) error {
	_, err := w.Write([]byte{byte(v >> 8), byte(v)})
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

func WriteUint32(w io.Writer, v uint32) error {
	_, err := w.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	return err
}

// ReadString reads a 2-byte length prefix followed by that many raw
// bytes. The result is not validated as UTF-8; callers that need a
// wire string (topic names, client ids) should validate separately.
func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes is ReadString without the string conversion, used for
// will messages and other fields that are not necessarily UTF-8.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteString(w io.Writer, b []byte) error {
	if len(b) > 0xFFFF {
		return xerror.ErrMalformed
	}
	if err := WriteUint16(w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

const maxRemainingLengthBytes = 4

// ReadRemainingLength decodes the MQTT variable-byte integer used as
// the fixed header's remaining length. It returns the decoded value
// and the number of bytes consumed.
func ReadRemainingLength(r io.Reader) (length uint32, consumed int, err error) {
	var multiplier uint32 = 1
	var b [1]byte
	for i := 0; i < maxRemainingLengthBytes; i++ {
		if _, err = io.ReadFull(r, b[:]); err != nil {
			return 0, consumed, err
		}
		consumed++
		length += uint32(b[0]&0x7F) * multiplier
		if b[0]&0x80 == 0 {
			return length, consumed, nil
		}
		multiplier *= 128
	}
	return 0, consumed, xerror.ErrMalformed
}

// DecodeRemainingLength is the byte-slice variant used by the packet
// type decoder, which works against an already-buffered frame rather
// than a live io.Reader.
func DecodeRemainingLength(buf []byte) (length uint32, consumed int, err error) {
	return ReadRemainingLength(bytes.NewReader(buf))
}

func WriteRemainingLength(w io.Writer, length uint32) error {
	if length > 0xFFFFFFF {
		return xerror.ErrMalformed
	}
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
		if length == 0 {
			return nil
		}
	}
}
