package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseString decodes a string token's lexeme (including the surrounding
// quotes) into its runtime byte content. The scanner has already validated
// the escapes, so failures here indicate a bug in the scanner.
func ParseString(lexeme string) (string, error) {
	if len(lexeme) < 2 {
		return "", fmt.Errorf("malformed string lexeme %q", lexeme)
	}
	body := lexeme[1 : len(lexeme)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		switch body[i] {
		case '\'', '"', '\\':
			b.WriteByte(body[i])
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '\n':
			i++
		case '\r':
			i += 2
		case 'x':
			i++
			j := i
			for j < len(body) && j < i+2 && isHexDigit(body[j]) {
				j++
			}
			v, err := strconv.ParseUint(body[i:j], 16, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(v))
			i = j
		case 'u':
			i += 2 // skip "u{"
			j := i
			for j < len(body) && body[j] != '}' {
				j++
			}
			v, err := strconv.ParseUint(body[i:j], 16, 32)
			if err != nil {
				return "", err
			}
			var buf [utf8.UTFMax]byte
			n := utf8.EncodeRune(buf[:], rune(v))
			b.Write(buf[:n])
			i = j + 1
		default:
			return "", fmt.Errorf("malformed escape in %q", lexeme)
		}
	}
	return b.String(), nil
}

// Number is a decoded numeric literal: either an int or a num.
type Number struct {
	IsInt bool
	Int   int64
	Num   float64
}

// ParseNumber decodes a number token's lexeme. The scanner has already
// validated the shape, so failures indicate overflow of the int64 range;
// such a literal is returned as an error, not converted to num.
func ParseNumber(lexeme string) (Number, error) {
	clean := strings.ReplaceAll(lexeme, "_", "")
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		if strings.ContainsAny(clean, "pP") {
			f, err := strconv.ParseFloat(clean, 64)
			if err != nil {
				return Number{}, err
			}
			return Number{Num: f}, nil
		}
		i, err := strconv.ParseInt(clean[2:], 16, 64)
		if err != nil {
			return Number{}, err
		}
		return Number{IsInt: true, Int: i}, nil
	}
	if strings.HasPrefix(clean, "0b") {
		i, err := strconv.ParseInt(clean[2:], 2, 64)
		if err != nil {
			return Number{}, err
		}
		return Number{IsInt: true, Int: i}, nil
	}
	if strings.HasPrefix(clean, "0o") {
		i, err := strconv.ParseInt(clean[2:], 8, 64)
		if err != nil {
			return Number{}, err
		}
		return Number{IsInt: true, Int: i}, nil
	}
	if strings.ContainsAny(clean, ".eE") {
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return Number{}, err
		}
		return Number{Num: f}, nil
	}
	i, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return Number{}, err
	}
	return Number{IsInt: true, Int: i}, nil
}
