package ordercache

import "strings"

// Fyers bracket/cover orders acknowledge with a parent id but appear in the
// order book as suffixed legs: -BO-1 is the entry leg, -BO-2 and -BO-3 the
// target and stoploss legs. The stored id never carries a suffix.
const (
	fyersEntryLegSuffix = "-BO-1"
	fyersExitLeg2Suffix = "-BO-2"
	fyersExitLeg3Suffix = "-BO-3"
)

// LookupCandidates returns the broker order book ids a stored entry id may
// appear under, most specific first. For fyers MARGIN/BO product types the
// entry leg id is the stored id plus the -BO-1 suffix; every other
// broker/product matches the stored id verbatim.
func LookupCandidates(storedID, brokerName, productType string) []string {
	if storedID == "" {
		return nil
	}
	if strings.EqualFold(brokerName, "fyers") {
		switch strings.ToUpper(productType) {
		case "MARGIN", "BO":
			if !strings.Contains(storedID, "-BO-") {
				return []string{storedID + fyersEntryLegSuffix, storedID}
			}
		}
	}
	return []string{storedID}
}

// IsExitLeg reports whether a live order id is a bracket exit leg
// (target or stoploss) of the given stored entry id.
func IsExitLeg(liveID, storedID string) bool {
	if storedID == "" {
		return false
	}
	return liveID == storedID+fyersExitLeg2Suffix || liveID == storedID+fyersExitLeg3Suffix
}

// ParentID strips a bracket leg suffix, returning the stored entry id.
func ParentID(liveID string) string {
	for _, suffix := range []string{fyersEntryLegSuffix, fyersExitLeg2Suffix, fyersExitLeg3Suffix} {
		if strings.HasSuffix(liveID, suffix) {
			return strings.TrimSuffix(liveID, suffix)
		}
	}
	return liveID
}
