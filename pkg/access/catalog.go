package access

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Page is one navigable page of the portal
type Page struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Category   string `yaml:"category" json:"category"`
	BaseModule bool   `yaml:"base_module" json:"base_module"`
}

// Feature is a fine-grained capability inside a page
type Feature struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Page string `yaml:"page" json:"page"`
}

// Catalog is the universe of pages and features the system defines.
// A Catalog is immutable once built; reloads produce a new value.
type Catalog struct {
	Pages    []Page    `yaml:"pages" json:"pages"`
	Features []Feature `yaml:"features" json:"features"`

	pageIDs    Set
	baseIDs    Set
	featureIDs Set
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads and validates a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML into a validated catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.pageIDs = Set{}
	c.baseIDs = Set{}
	c.featureIDs = Set{}

	for _, p := range c.Pages {
		if p.ID == "" {
			return fmt.Errorf("catalog page with empty id")
		}
		if c.pageIDs.Has(p.ID) {
			return fmt.Errorf("duplicate page id %q", p.ID)
		}
		c.pageIDs.Add(p.ID)
		if p.BaseModule {
			c.baseIDs.Add(p.ID)
		}
	}
	if !c.pageIDs.Has(PageDashboard) {
		return fmt.Errorf("catalog must define the %q page", PageDashboard)
	}

	for _, f := range c.Features {
		if f.ID == "" {
			return fmt.Errorf("catalog feature with empty id")
		}
		if c.featureIDs.Has(f.ID) {
			return fmt.Errorf("duplicate feature id %q", f.ID)
		}
		if f.Page != "" && !c.pageIDs.Has(f.Page) {
			return fmt.Errorf("feature %q references unknown page %q", f.ID, f.Page)
		}
		c.featureIDs.Add(f.ID)
	}
	return nil
}

// PageIDs returns the full page universe
func (c *Catalog) PageIDs() Set {
	return c.pageIDs.Union(nil)
}

// BaseModuleIDs returns the pages included in every package tier
func (c *Catalog) BaseModuleIDs() Set {
	return c.baseIDs.Union(nil)
}

// FeatureIDs returns the full feature universe
func (c *Catalog) FeatureIDs() Set {
	return c.featureIDs.Union(nil)
}

// HasPage reports whether the catalog defines the page
func (c *Catalog) HasPage(id string) bool {
	return c.pageIDs.Has(id)
}

// HasFeature reports whether the catalog defines the feature
func (c *Catalog) HasFeature(id string) bool {
	return c.featureIDs.Has(id)
}
