package consensus

import (
	"bytes"

	"github.com/tcfw/baals/internal/utils/logging"
	"github.com/tcfw/baals/pkg/types"
)

// BetterTip applies the fork-choice rule between two validly-signed
// tips: greatest height wins, ties break to the lowest hash. Under a
// single authority forks are abnormal, so a tie is logged for the
// operator.
func BetterTip(current, candidate *types.Block) bool {
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}

	logging.Entry().WithFields(logging.Fields{
		"height":    current.Height,
		"current":   current.Hash,
		"candidate": candidate.Hash,
	}).Warn("competing tips at equal height")

	return bytes.Compare(candidate.Hash[:], current.Hash[:]) < 0
}
