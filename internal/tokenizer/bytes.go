package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	byteToRune [256]rune
	runeToByte = make(map[rune]byte, 256)
)

func init() {
	byteToRune = buildByteEncoder()
	for b, r := range byteToRune {
		runeToByte[r] = byte(b)
	}
}

// buildByteEncoder maps every byte to a printable rune. Bytes in
// '!'..'~', 0xA1..0xAC and 0xAE..0xFF keep their code point; the rest take
// 256, 257, ... in ascending byte order.
func buildByteEncoder() [256]rune {
	var enc [256]rune
	var printable [256]bool
	for i := int('!'); i <= int('~'); i++ {
		printable[i] = true
	}
	for i := 0xA1; i <= 0xAC; i++ {
		printable[i] = true
	}
	for i := 0xAE; i <= 0xFF; i++ {
		printable[i] = true
	}
	n := 0
	for b := 0; b < 256; b++ {
		if printable[b] {
			enc[b] = rune(b)
			continue
		}
		enc[b] = rune(256 + n)
		n++
	}
	return enc
}

// EncodeText remaps every character of s through the byte table, taking
// its code point as the byte value. Characters above U+00FF, including
// invalid UTF-8, have no byte and fail with ErrUnmatchedToken.
func EncodeText(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))
	for i, r := range s {
		if r > 0xFF {
			return "", fmt.Errorf("character %U at offset %d is outside U+0000..U+00FF: %w", r, i, ErrUnmatchedToken)
		}
		sb.WriteRune(byteToRune[r])
	}
	return sb.String(), nil
}

// DecodeRunes inverts EncodeText, returning the byte behind every symbol.
// Runes outside the table are an error.
func DecodeRunes(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			return nil, fmt.Errorf("invalid UTF-8 at offset %d", i)
		}
		b, ok := runeToByte[r]
		if !ok {
			return nil, fmt.Errorf("rune %U at offset %d is not a byte symbol", r, i)
		}
		out = append(out, b)
	}
	return out, nil
}

// bytesToText turns every byte into the character with that code point.
func bytesToText(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, b := range raw {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// ByteSymbol returns the printable rune standing for b.
func ByteSymbol(b byte) rune {
	return byteToRune[b]
}
