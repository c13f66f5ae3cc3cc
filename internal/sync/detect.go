package sync

import (
	"github.com/schaermu/datapages/internal/document"
	"github.com/schaermu/datapages/internal/store"
)

// HasChanged reports whether cur differs from the previously stored snapshot.
// A missing or corrupt snapshot always counts as changed.
func HasChanged(prev store.Snapshot, cur document.Document) (bool, error) {
	changed, _, err := compare(prev, cur)
	return changed, err
}

// compare is HasChanged that also returns the fingerprint of cur.
func compare(prev store.Snapshot, cur document.Document) (bool, document.Fingerprint, error) {
	curSum, err := document.Sum(cur)
	if err != nil {
		return false, "", err
	}

	if !prev.Exists() {
		return true, curSum, nil
	}

	prevSum, err := document.Sum(prev.Doc)
	if err != nil {
		return false, "", err
	}

	return prevSum != curSum, curSum, nil
}
