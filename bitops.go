// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Miscellaneous bit operations.

package updi

import "fmt"

// isPow2 reports whether n is a positive power of two, the shape every
// flash_pagesize value in a device profile is expected to have.
func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FormatBytes formats a byte quantity using human-readable units, e.g.
// kilobyte, megabyte.
func FormatBytes(v uint64) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB"}
	d := uint64(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v >= d*1000 {
			d *= 1000
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	}
	// Print 3 significant digits
	return fmt.Sprintf("%.3g %s", float64(v)/float64(d), suffixes[i])
}
