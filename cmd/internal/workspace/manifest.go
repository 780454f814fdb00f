package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// canonicalManifest re-encodes a JSON object the way manifest.json is
// committed: two-space indent, keys in client order, minimal string escapes
// (no HTML escaping) and normalized numbers. Equal documents therefore
// produce equal bytes, whatever whitespace or escapes the client sent.
func canonicalManifest(in []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(in))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := writeCanonical(dec, &buf, 0); err != nil {
		return nil, ErrInvalidManifest
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrInvalidManifest
	}
	return buf.Bytes(), nil
}

func writeCanonical(dec *json.Decoder, buf *bytes.Buffer, depth int) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		return writeContainer(dec, buf, depth, v)
	case string:
		return writeString(buf, v)
	case json.Number:
		return writeNumber(buf, v)
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case nil:
		buf.WriteString("null")
	default:
		return errors.New("unexpected token")
	}
	return nil
}

func writeContainer(dec *json.Decoder, buf *bytes.Buffer, depth int, open json.Delim) error {
	object := open == '{'
	buf.WriteByte(byte(open))

	n := 0
	for dec.More() {
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n" + strings.Repeat("  ", depth+1))
		if object {
			key, err := dec.Token()
			if err != nil {
				return err
			}
			s, ok := key.(string)
			if !ok {
				return errors.New("non-string key")
			}
			if err := writeString(buf, s); err != nil {
				return err
			}
			buf.WriteString(": ")
		}
		if err := writeCanonical(dec, buf, depth+1); err != nil {
			return err
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if n > 0 {
		buf.WriteString("\n" + strings.Repeat("  ", depth))
	}
	if object {
		buf.WriteByte('}')
	} else {
		buf.WriteByte(']')
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode's trailing newline
	return nil
}

// writeNumber keeps integers exact and spells everything else the way
// encoding/json formats a float64.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
