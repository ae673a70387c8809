package core

import "sort"

// AssetGroup classifies an asset for presentation and liability accounting.
// Liability membership is read from here and never stored on the asset.
type AssetGroup struct {
	Key         string
	DisplayName string
	Icon        string
	Color       string
	IsLiability bool
}

// assetGroups is the fixed taxonomy shipped with the software. It is never
// mutated at runtime; changing it is a release, not a data migration.
var assetGroups = map[int]AssetGroup{
	1: {Key: "cash", DisplayName: "Cash", Icon: "ic_cash", Color: "#8BC34A"},
	2: {Key: "card", DisplayName: "Credit Card", Icon: "ic_card", Color: "#E53935", IsLiability: true},
	3: {Key: "bank", DisplayName: "Bank Account", Icon: "ic_bank", Color: "#1E88E5"},
	4: {Key: "saving", DisplayName: "Savings", Icon: "ic_piggy", Color: "#43A047"},
	5: {Key: "investment", DisplayName: "Investments", Icon: "ic_chart", Color: "#6A1B9A"},
	6: {Key: "loan", DisplayName: "Loan", Icon: "ic_loan", Color: "#F4511E", IsLiability: true},
	7: {Key: "other", DisplayName: "Other", Icon: "ic_wallet", Color: "#757575"},
}

// AssetGroupByID looks up one taxonomy entry.
func AssetGroupByID(id int) (AssetGroup, bool) {
	g, ok := assetGroups[id]
	return g, ok
}

// AssetGroupIDs returns every group id in ascending order.
func AssetGroupIDs() []int {
	ids := make([]int, 0, len(assetGroups))
	for id := range assetGroups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
