package manifest

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// SizeBetween keeps files whose size lies in [minBytes, maxBytes]. A zero
// maxBytes means no upper bound. Files that can no longer be stat'ed are
// dropped.
func SizeBetween(minBytes, maxBytes uint64) Predicate {
	return func(paths []string) []string {
		kept := make([]string, 0, len(paths))
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			size := uint64(info.Size())
			if size < minBytes {
				continue
			}
			if maxBytes > 0 && size > maxBytes {
				continue
			}
			kept = append(kept, p)
		}
		return kept
	}
}

// DescribeSizeBetween renders the bounds the way SizeBetween applies them.
func DescribeSizeBetween(minBytes, maxBytes uint64) string {
	if maxBytes == 0 {
		return fmt.Sprintf("size>=%s", humanize.IBytes(minBytes))
	}
	return fmt.Sprintf("%s<=size<=%s", humanize.IBytes(minBytes), humanize.IBytes(maxBytes))
}
