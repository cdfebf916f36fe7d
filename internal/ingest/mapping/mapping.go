// Package mapping renames source columns to the canonical product fields
// the retailer stages understand.
package mapping

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	FieldName          = "name"
	FieldSKU           = "sku"
	FieldBrand         = "brand"
	FieldDescription   = "description"
	FieldCategory      = "category"
	FieldSize          = "size"
	FieldColor         = "color"
	FieldMaterial      = "material"
	FieldPrice         = "price"
	FieldCost          = "cost"
	FieldStockQuantity = "stock_quantity"
)

type DataMapping struct {
	Kind          string         `yaml:"kind"`
	Version       string         `yaml:"version"`
	Metadata      Metadata       `yaml:"metadata"`
	Retailer      string         `yaml:"retailer"`
	FieldMappings []FieldMapping `yaml:"fieldMappings"`
}

type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// FieldMapping fills Target from the first of Sources present in a record.
type FieldMapping struct {
	Target   string   `yaml:"target"`
	Sources  []string `yaml:"sources"`
	Required bool     `yaml:"required"`
}

// Default is the mapping used when no file is configured.
func Default() *DataMapping {
	return &DataMapping{
		Kind:     "DataMapping",
		Version:  "v1",
		Metadata: Metadata{Name: "Retailer defaults"},
		Retailer: "generic",
		FieldMappings: []FieldMapping{
			{Target: FieldName, Sources: []string{"product_name", "title", "Name"}, Required: true},
			{Target: FieldSKU, Sources: []string{"item_sku", "product_sku", "SKU", "article_number"}, Required: true},
			{Target: FieldBrand, Sources: []string{"brand_name", "manufacturer", "Brand"}, Required: true},
			{Target: FieldPrice, Sources: []string{"retail_price", "unit_price", "Price"}, Required: true},
			{Target: FieldDescription, Sources: []string{"product_description", "Description"}},
			{Target: FieldCategory, Sources: []string{"category_name", "product_type", "Category"}},
			{Target: FieldSize, Sources: []string{"Size"}},
			{Target: FieldColor, Sources: []string{"colour", "Color"}},
			{Target: FieldMaterial, Sources: []string{"fabric", "Material"}},
			{Target: FieldCost, Sources: []string{"unit_cost", "cost_price"}},
			{Target: FieldStockQuantity, Sources: []string{"quantity", "qty", "stock", "inventory"}},
		},
	}
}

func (dm *DataMapping) Validate() error {
	if dm.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if dm.Version == "" {
		return fmt.Errorf("version is required")
	}
	if dm.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if len(dm.FieldMappings) == 0 {
		return fmt.Errorf("at least one field mapping is required")
	}
	seen := make(map[string]bool, len(dm.FieldMappings))
	for i, fm := range dm.FieldMappings {
		if strings.TrimSpace(fm.Target) == "" {
			return fmt.Errorf("fieldMappings[%d] must have target defined", i)
		}
		if seen[fm.Target] {
			return fmt.Errorf("fieldMappings[%d]: duplicate target %q", i, fm.Target)
		}
		seen[fm.Target] = true
	}
	return nil
}

// Required lists the targets marked required, in declaration order.
func (dm *DataMapping) Required() []string {
	var out []string
	for _, fm := range dm.FieldMappings {
		if fm.Required {
			out = append(out, fm.Target)
		}
	}
	return out
}

// Apply returns a copy of raw with every target filled from its aliases.
// A target already present in raw wins over its aliases.
func (dm *DataMapping) Apply(raw domain.RawRecord) domain.RawRecord {
	out := make(domain.RawRecord, len(raw)+len(dm.FieldMappings))
	for k, v := range raw {
		out[k] = v
	}
	for _, fm := range dm.FieldMappings {
		if out.Has(fm.Target) {
			continue
		}
		for _, src := range fm.Sources {
			if raw.Has(src) {
				out[fm.Target] = raw[src]
				break
			}
		}
	}
	return out
}

type YAMLLoader struct {
	reader io.Reader
}

func NewYAMLLoader(reader io.Reader) *YAMLLoader {
	return &YAMLLoader{
		reader: reader,
	}
}

func (l *YAMLLoader) Load(validate bool) (*DataMapping, error) {
	decoder := yaml.NewDecoder(l.reader)
	decoder.KnownFields(true)
	var mapping DataMapping
	if err := decoder.Decode(&mapping); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if validate {
		if err := mapping.Validate(); err != nil {
			return nil, fmt.Errorf("invalid mapping: %w", err)
		}
	}
	return &mapping, nil
}

// LoadFile reads and validates a mapping file. An empty path yields Default.
func LoadFile(path string) (*DataMapping, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}
	defer f.Close()
	return NewYAMLLoader(f).Load(true)
}
