package enum

// ProductType 表示商品的類型
type ProductType string

const (
	ProductTypePerfume    ProductType = "perfume"
	ProductTypeEssenceOil ProductType = "essence_oil"
	ProductTypeBodyLotion ProductType = "body_lotion"
)

var productTypeLabels = map[ProductType]string{
	ProductTypePerfume:    "Perfume",
	ProductTypeEssenceOil: "Essence Oil",
	ProductTypeBodyLotion: "Body Lotion",
}

// Label returns the display label, or "" for an unrecognized type.
func (t ProductType) Label() string {
	return productTypeLabels[t]
}
