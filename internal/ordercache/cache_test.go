package ordercache

import (
	"reflect"
	"testing"
)

func TestLookupCandidates(t *testing.T) {
	tests := []struct {
		name        string
		storedID    string
		broker      string
		productType string
		want        []string
	}{
		{
			name:        "fyers margin rewrites to entry leg",
			storedID:    "25080800223154",
			broker:      "fyers",
			productType: "MARGIN",
			want:        []string{"25080800223154-BO-1", "25080800223154"},
		},
		{
			name:        "fyers bo rewrites to entry leg",
			storedID:    "25080800223154",
			broker:      "fyers",
			productType: "BO",
			want:        []string{"25080800223154-BO-1", "25080800223154"},
		},
		{
			name:        "fyers intraday matches verbatim",
			storedID:    "25080800223154",
			broker:      "fyers",
			productType: "INTRADAY",
			want:        []string{"25080800223154"},
		},
		{
			name:        "already suffixed id is not rewritten again",
			storedID:    "25080800223154-BO-1",
			broker:      "fyers",
			productType: "MARGIN",
			want:        []string{"25080800223154-BO-1"},
		},
		{
			name:        "zerodha matches verbatim",
			storedID:    "250808002417740",
			broker:      "zerodha",
			productType: "NRML",
			want:        []string{"250808002417740"},
		},
		{
			name:     "empty id yields nothing",
			storedID: "",
			broker:   "fyers",
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LookupCandidates(tt.storedID, tt.broker, tt.productType)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LookupCandidates(%q, %q, %q) = %v, want %v",
					tt.storedID, tt.broker, tt.productType, got, tt.want)
			}
		})
	}
}

func TestExitLegClassification(t *testing.T) {
	stored := "25080800223154"
	if !IsExitLeg(stored+"-BO-2", stored) {
		t.Errorf("-BO-2 should classify as exit leg")
	}
	if !IsExitLeg(stored+"-BO-3", stored) {
		t.Errorf("-BO-3 should classify as exit leg")
	}
	if IsExitLeg(stored+"-BO-1", stored) {
		t.Errorf("-BO-1 is the entry leg, not an exit leg")
	}
	if IsExitLeg(stored, stored) {
		t.Errorf("unsuffixed id is not an exit leg")
	}
}

func TestParentID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"25080800223154-BO-1", "25080800223154"},
		{"25080800223154-BO-2", "25080800223154"},
		{"25080800223154-BO-3", "25080800223154"},
		{"25080800223154", "25080800223154"},
	}
	for _, tt := range tests {
		if got := ParentID(tt.in); got != tt.want {
			t.Errorf("ParentID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
