// Package merge implements a line-oriented three-way merge that renders a
// diverged pair of note bodies for display. Callers supply both marker
// labels; no other package in this module calls it. It is deliberately simple (spec §4.2): no semantic
// understanding of content, just a line scan that brackets diverging runs
// in conflict markers. Anything non-trivial becomes a persisted Conflict
// record instead of an automatic merge.
package merge

import "strings"

// Result is the outcome of a Merge call.
type Result struct {
	Content        string
	HasConflicts   bool
	ConflictCount  int
}

// Merge compares local and remote line-by-line. Identical inputs collapse
// to one copy of the content. Otherwise every maximal run of differing
// lines is wrapped in `<<<<<<< {localLabel} ... ======= ... >>>>>>>
// {remoteLabel}` conflict markers.
func Merge(local, remote, localLabel, remoteLabel string) Result {
	if local == remote {
		return Result{Content: local, HasConflicts: false, ConflictCount: 0}
	}

	localLines := splitLines(local)
	remoteLines := splitLines(remote)

	var out []string
	conflicts := 0

	i, j := 0, 0
	for i < len(localLines) || j < len(remoteLines) {
		if i < len(localLines) && j < len(remoteLines) && localLines[i] == remoteLines[j] {
			out = append(out, localLines[i])
			i++
			j++
			continue
		}

		// Collect the maximal diverging run: advance both sides past this
		// common suffix anchor, or to the end if none remains.
		li := i
		for li < len(localLines) && !lineExistsAfter(remoteLines, j, localLines[li]) {
			li++
		}
		rj := j
		for rj < len(remoteLines) && !lineExistsAfter(localLines, i, remoteLines[rj]) {
			rj++
		}
		// When each side's current line reappears later on the other side
		// (e.g. two swapped lines) neither scan advances; take one line from
		// each side so every pass consumes input.
		if li == i && rj == j {
			li, rj = i+1, j+1
		}

		out = append(out, "<<<<<<< "+localLabel)
		out = append(out, localLines[i:li]...)
		out = append(out, "=======")
		out = append(out, remoteLines[j:rj]...)
		out = append(out, ">>>>>>> "+remoteLabel)
		conflicts++

		i = li
		j = rj
	}

	return Result{
		Content:       strings.Join(out, "\n"),
		HasConflicts: conflicts > 0,
		ConflictCount: conflicts,
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// lineExistsAfter reports whether line appears anywhere in lines[from:],
// used to find a realignment point ending a diverging run.
func lineExistsAfter(lines []string, from int, line string) bool {
	for k := from; k < len(lines); k++ {
		if lines[k] == line {
			return true
		}
	}
	return false
}
