package dataset

import (
	"strings"

	"github.com/google/uuid"
)

// typed id prefixes
const (
	DataSetIDPrefix    = "DATA"
	AttributeIDPrefix  = "ATTR"
	CollectionIDPrefix = "COLL"
	ItemIDPrefix       = "ITEM"
	CaseIDPrefix       = "CASE"
	GlobalIDPrefix     = "GLOB"
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
