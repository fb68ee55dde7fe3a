package access

// RevokeAllPages sets the stored pages to exactly {dashboard}. Features are
// left untouched. Applying it twice yields the same result as once.
func RevokeAllPages(g GrantSet) GrantSet {
	return GrantSet{
		Pages:    []string{PageDashboard},
		Features: g.FeatureSet().Slice(),
	}
}

// GrantAllPages grants every page in the catalog, keeping stored features
func (e *Evaluator) GrantAllPages(g GrantSet) GrantSet {
	return GrantSet{
		Pages:    e.Catalog().PageIDs().Slice(),
		Features: g.FeatureSet().Slice(),
	}
}

// TogglePage flips one page in or out of the stored set. The dashboard
// cannot be toggled off.
func TogglePage(g GrantSet, pageID string) GrantSet {
	pages := g.PageSet()
	switch {
	case pageID == PageDashboard:
		pages.Add(PageDashboard)
	case pages.Has(pageID):
		pages.Remove(pageID)
	default:
		pages.Add(pageID)
	}
	return GrantSet{Pages: pages.Slice(), Features: g.FeatureSet().Slice()}
}

// ToggleFeature flips one feature in or out of the stored set
func ToggleFeature(g GrantSet, featureID string) GrantSet {
	features := g.FeatureSet()
	if features.Has(featureID) {
		features.Remove(featureID)
	} else {
		features.Add(featureID)
	}
	return GrantSet{Pages: g.PageSet().Slice(), Features: features.Slice()}
}

// WithDashboard returns a normalized copy that always stores the dashboard
func WithDashboard(g GrantSet) GrantSet {
	pages := g.PageSet()
	pages.Add(PageDashboard)
	return GrantSet{Pages: pages.Slice(), Features: g.FeatureSet().Slice()}
}
