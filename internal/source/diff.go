package source

import (
	"sort"

	"sqlledger/internal/engine"
)

// Pending returns the candidates whose filename is not in the ledger, sorted by
// filename. The hash plays no part in the decision.
func Pending(candidates []engine.PendingMigration, performed []engine.MigrationRecord) []engine.PendingMigration {
	done := make(map[string]struct{}, len(performed))
	for _, r := range performed {
		done[r.Filename] = struct{}{}
	}
	out := make([]engine.PendingMigration, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := done[c.Filename]; !ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// DriftKind says how a recorded migration differs from the directory.
type DriftKind string

const (
	// DriftChanged: the file's content no longer matches the recorded hash.
	DriftChanged DriftKind = "changed"
	// DriftMissing: the file is gone from the directory.
	DriftMissing DriftKind = "missing"
)

type DriftEntry struct {
	Record      engine.MigrationRecord
	Kind        DriftKind
	CurrentHash string
}

// Drift reports ledger rows that no longer match the directory.
func Drift(candidates []engine.PendingMigration, performed []engine.MigrationRecord) []DriftEntry {
	onDisk := make(map[string]string, len(candidates))
	for _, c := range candidates {
		onDisk[c.Filename] = c.Hash
	}
	var out []DriftEntry
	for _, r := range performed {
		h, ok := onDisk[r.Filename]
		switch {
		case !ok:
			out = append(out, DriftEntry{Record: r, Kind: DriftMissing})
		case h != r.Hash:
			out = append(out, DriftEntry{Record: r, Kind: DriftChanged, CurrentHash: h})
		}
	}
	return out
}
