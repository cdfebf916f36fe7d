package mapping

import (
	"strings"
	"testing"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLLoader_String(t *testing.T) {
	reader := strings.NewReader(`
kind: DataMapping
version: v1
metadata:
  name: "Kaggle Dataset"
retailer: kaggle
fieldMappings:
  - target: "sku"
    sources: ["id"]
    required: true
`)

	cfg, err := NewYAMLLoader(reader).Load(true)

	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, "DataMapping", cfg.Kind)
	assert.Equal(t, "Kaggle Dataset", cfg.Metadata.Name)
	assert.Equal(t, "kaggle", cfg.Retailer)
	require.Len(t, cfg.FieldMappings, 1)
	assert.Equal(t, []string{"id"}, cfg.FieldMappings[0].Sources)
	assert.Equal(t, []string{"sku"}, cfg.Required())
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile("testdata/retailer-mapping.yaml")

	require.NoError(t, err)
	assert.Equal(t, "northwind", cfg.Retailer)
	assert.Equal(t, []string{FieldName, FieldSKU, FieldBrand, FieldPrice}, cfg.Required())
}

func TestLoadFile_UnknownFieldsRejected(t *testing.T) {
	_, err := LoadFile("testdata/invalid-mapping.yaml")
	assert.Error(t, err)
}

func TestLoadFile_EmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadFile("")

	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, []string{FieldName, FieldSKU, FieldBrand, FieldPrice}, cfg.Required())
}

func TestValidate(t *testing.T) {
	cases := map[string]DataMapping{
		"missing kind":     {Version: "v1", Metadata: Metadata{Name: "x"}, FieldMappings: []FieldMapping{{Target: "a"}}},
		"missing mappings": {Kind: "DataMapping", Version: "v1", Metadata: Metadata{Name: "x"}},
		"empty target":     {Kind: "DataMapping", Version: "v1", Metadata: Metadata{Name: "x"}, FieldMappings: []FieldMapping{{Target: " "}}},
		"duplicate target": {Kind: "DataMapping", Version: "v1", Metadata: Metadata{Name: "x"}, FieldMappings: []FieldMapping{{Target: "a"}, {Target: "a"}}},
	}
	for name, dm := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, dm.Validate())
		})
	}
}

func TestApply(t *testing.T) {
	dm := Default()
	raw := domain.RawRecord{
		"product_name": "Linen Shirt",
		"title":        "ignored, product_name comes first",
		"sku":          "LS-1",
		"item_sku":     "ignored, sku already present",
		"manufacturer": "Acme",
		"retail_price": "49.00",
		"qty":          "12",
		"extra":        "kept",
	}

	got := dm.Apply(raw)

	assert.Equal(t, "Linen Shirt", got.String(FieldName))
	assert.Equal(t, "LS-1", got.String(FieldSKU))
	assert.Equal(t, "Acme", got.String(FieldBrand))
	assert.Equal(t, "49.00", got.String(FieldPrice))
	assert.Equal(t, "12", got.String(FieldStockQuantity))
	assert.Equal(t, "kept", got.String("extra"))
	assert.False(t, raw.Has(FieldName), "input is not modified")
}
