package scorer

import "strings"

// Visually confusable glyph pairs, keyed by what the OCR engine read.
// digitToLetter is consulted where the grammar expects a letter,
// letterToDigit where it expects a digit.
var (
	digitToLetter = map[byte]byte{
		'0': 'O',
		'1': 'I',
		'5': 'S',
		'8': 'B',
		'2': 'Z',
		'6': 'G',
	}
	letterToDigit = map[byte]byte{
		'O': '0',
		'I': '1',
		'S': '5',
		'B': '8',
		'Z': '2',
		'G': '6',
	}
)

// correct attempts glyph-confusion substitution against each configured
// pattern and returns the first corrected string that fully satisfies a
// pattern the raw text did not. Substitution only ever moves a
// character toward the class the grammar expects at that position.
func (e *Engine) correct(norm string) (string, bool) {
	for _, p := range e.patterns {
		pattern := strings.ReplaceAll(p, " ", "")
		if len(pattern) != len(norm) {
			continue
		}

		out := []byte(norm)
		ok := true
		for i := 0; i < len(pattern) && ok; i++ {
			switch pattern[i] {
			case 'L':
				if out[i] >= 'A' && out[i] <= 'Z' {
					continue
				}
				if sub, found := digitToLetter[out[i]]; found {
					out[i] = sub
				} else {
					ok = false
				}
			case 'N':
				if out[i] >= '0' && out[i] <= '9' {
					continue
				}
				if sub, found := letterToDigit[out[i]]; found {
					out[i] = sub
				} else {
					ok = false
				}
			default:
				ok = out[i] == pattern[i]
			}
		}

		if ok {
			return string(out), true
		}
	}
	return "", false
}
