package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// step returns a logit row with the given class strongly preferred.
func step(classes, winner int) []float32 {
	row := make([]float32, classes)
	for i := range row {
		row[i] = -10
	}
	row[winner] = 10
	return row
}

func TestCTCGreedyDecode_MergesRepeatsAndDropsBlanks(t *testing.T) {
	classes := len(testAlphabet) + 1 // +1 for CTC blank at 0

	// blank A A blank B blank B -> "ABB"
	a := 1 + 10 // 'A'
	bCls := 1 + 11
	steps := [][]float32{
		step(classes, 0),
		step(classes, a),
		step(classes, a),
		step(classes, 0),
		step(classes, bCls),
		step(classes, 0),
		step(classes, bCls),
	}

	text, conf := ctcGreedyDecode(steps, testAlphabet)
	assert.Equal(t, "ABB", text)
	assert.Greater(t, conf, 0.9, "unambiguous logits should decode with high confidence")
}

func TestCTCGreedyDecode_AllBlanks(t *testing.T) {
	classes := len(testAlphabet) + 1
	steps := [][]float32{step(classes, 0), step(classes, 0)}

	text, conf := ctcGreedyDecode(steps, testAlphabet)
	assert.Empty(t, text)
	assert.Zero(t, conf)
}

func TestCTCGreedyDecode_DigitsAndLetters(t *testing.T) {
	classes := len(testAlphabet) + 1

	// "AB C12" without spaces: A B C 1 2 with blanks between.
	var steps [][]float32
	for _, ch := range "ABC12" {
		idx := int(indexOf(testAlphabet, byte(ch))) + 1
		steps = append(steps, step(classes, idx), step(classes, 0))
	}

	text, _ := ctcGreedyDecode(steps, testAlphabet)
	assert.Equal(t, "ABC12", text)
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
