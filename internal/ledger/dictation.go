package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDictation turns free-form dictated text into piece inputs. Each
// line carries one piece as "<length> <material>", e.g. "3.5 Lámina".
// A decimal comma is accepted since the speech source is Spanish.
// Blank lines are skipped; malformed lines are reported with their index
// so the capture flow can surface them without losing the valid ones.
func ParseDictation(text string) ([]PieceInput, []RejectedPiece) {
	var inputs []PieceInput
	var rejected []RejectedPiece
	idx := -1
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx++
		fields := strings.Fields(line)
		if len(fields) < 2 {
			rejected = append(rejected, RejectedPiece{Index: idx, Reason: fmt.Sprintf("expected \"<length> <material>\", got %q", line)})
			continue
		}
		raw := strings.ReplaceAll(fields[0], ",", ".")
		length, err := decimal.NewFromString(raw)
		if err != nil {
			rejected = append(rejected, RejectedPiece{Index: idx, Reason: fmt.Sprintf("invalid length %q", fields[0])})
			continue
		}
		inputs = append(inputs, PieceInput{
			Length:   length,
			Material: strings.Join(fields[1:], " "),
		})
	}
	return inputs, rejected
}
