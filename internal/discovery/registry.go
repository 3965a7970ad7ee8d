package discovery

// SortFieldRegistry maps a configured metadata field to its index sort key.
type SortFieldRegistry interface {
	SortFieldIndex(metadataField, fieldType string) string
}

// SortTypeDate marks a date-typed sort field.
const SortTypeDate = "date"

// IndexSortFields follows the index naming convention: date fields sort on
// "<field>_dt", everything else on "<field>_sort".
type IndexSortFields struct{}

// SortFieldIndex implements SortFieldRegistry.
func (IndexSortFields) SortFieldIndex(metadataField, fieldType string) string {
	if fieldType == SortTypeDate {
		return metadataField + "_dt"
	}
	return metadataField + "_sort"
}
