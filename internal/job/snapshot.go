package job

import (
	"encoding/json"
	"sort"
)

// Snapshot serializes a job set to a deterministic JSON document (sorted by
// ID). Snapshots are stored alongside reload markers so operators can see
// the job set before and after each change.
func Snapshot(defs []Definition) (string, error) {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseSnapshot decodes a snapshot produced by Snapshot.
func ParseSnapshot(s string) ([]Definition, error) {
	if s == "" {
		return nil, nil
	}
	var defs []Definition
	if err := json.Unmarshal([]byte(s), &defs); err != nil {
		return nil, err
	}
	return defs, nil
}
