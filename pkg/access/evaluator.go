package access

import (
	"fmt"
	"sync/atomic"
)

// Evaluator turns stored grants into enabled pages and feature answers.
// It performs no I/O; the catalog may be swapped at runtime.
type Evaluator struct {
	catalog atomic.Pointer[Catalog]
}

// NewEvaluator creates an evaluator over the given catalog.
// A nil catalog selects the embedded default.
func NewEvaluator(catalog *Catalog) *Evaluator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Evaluator{}
	e.catalog.Store(catalog)
	return e
}

// Catalog returns the catalog currently in use
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog.Load()
}

// SetCatalog replaces the catalog used for subsequent evaluations
func (e *Evaluator) SetCatalog(c *Catalog) {
	if c != nil {
		e.catalog.Store(c)
	}
}

// ComputeEnabledModules returns the pages an identity may navigate to.
// System admins get the full page universe. Everyone else gets their stored
// pages plus the base modules. The result always contains the dashboard.
func (e *Evaluator) ComputeEnabledModules(storedPages []string, isSystemAdmin bool) Set {
	c := e.Catalog()
	var enabled Set
	if isSystemAdmin {
		enabled = c.PageIDs()
	} else {
		enabled = NewSet(storedPages...).Union(c.BaseModuleIDs())
	}
	enabled.Add(PageDashboard)
	return enabled
}

// HasPageAccess reports whether pageID is in the enabled set
func HasPageAccess(pageID string, enabledModules Set) bool {
	return enabledModules.Has(pageID)
}

// HasFeatureAccess reports whether a feature is granted. System admins are
// always granted.
func (e *Evaluator) HasFeatureAccess(featureID string, storedFeatures []string, isSystemAdmin bool) bool {
	if isSystemAdmin {
		return true
	}
	for _, f := range storedFeatures {
		if f == featureID {
			return true
		}
	}
	return false
}

// Evaluate bundles the enabled pages and granted features for one identity.
// A nil grant set is treated as empty.
func (e *Evaluator) Evaluate(grants *GrantSet, isSystemAdmin bool) Access {
	var pages []string
	features := Set{}
	if grants != nil {
		pages = grants.Pages
		features = grants.FeatureSet()
	}
	if isSystemAdmin {
		features = e.Catalog().FeatureIDs()
	}
	return Access{
		SystemAdmin: isSystemAdmin,
		Pages:       e.ComputeEnabledModules(pages, isSystemAdmin),
		Features:    features,
	}
}

// Validate checks that every id in the grant set exists in the catalog
func (e *Evaluator) Validate(g GrantSet) error {
	c := e.Catalog()
	for _, p := range g.Pages {
		if !c.HasPage(p) {
			return fmt.Errorf("%w: %s", ErrUnknownPage, p)
		}
	}
	for _, f := range g.Features {
		if !c.HasFeature(f) {
			return fmt.Errorf("%w: %s", ErrUnknownFeature, f)
		}
	}
	return nil
}

// FullGrant returns every page and feature in the catalog
func (e *Evaluator) FullGrant() GrantSet {
	c := e.Catalog()
	return GrantSet{
		Pages:    c.PageIDs().Slice(),
		Features: c.FeatureIDs().Slice(),
	}
}
