package billing

import "strings"

// Package is a purchasable token bundle. Prices are integer cents.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tokens     int64  `json:"tokens"`
	PriceCents int64  `json:"priceCents"`
}

var catalog = []Package{
	{ID: "small", Name: "Starter Pack", Tokens: 1000, PriceCents: 9900},
	{ID: "medium", Name: "Growth Pack", Tokens: 3000, PriceCents: 24900},
	{ID: "large", Name: "Agency Pack", Tokens: 10000, PriceCents: 69900},
}

// Packages returns the catalog in display order.
func Packages() []Package {
	out := make([]Package, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPackage finds a package by id. Matching is exact after trimming.
func LookupPackage(id string) (Package, bool) {
	id = strings.TrimSpace(id)
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func (p Package) description() string {
	return p.Name + " token bundle"
}
