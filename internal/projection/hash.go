package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// stateHash digests the locker's set membership. Each set is sorted before
// serialization and the JSON is canonicalized (RFC 8785) so hash equality
// depends only on final membership, never on event-processing order.
func stateHash(l *locker) (string, error) {
	summary := struct {
		Compartments         []string `json:"compartments"`
		ActiveReservations   []string `json:"active_reservations"`
		DegradedCompartments []string `json:"degraded_compartments"`
	}{
		Compartments:         sortedKeys(l.compartments),
		ActiveReservations:   sortedKeys(l.activeReservations),
		DegradedCompartments: sortedKeys(l.degradedCompartments),
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal state summary: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize state summary: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
