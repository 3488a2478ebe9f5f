package valueset

import "strings"

const (
	ColumnCode              = "Code"
	ColumnDisplayName       = "DisplayName"
	ColumnValueSetOID       = "ValueSetOID"
	ColumnValuesetName      = "ValuesetName"
	ColumnCodeSystem        = "CodeSystem"
	ColumnCodeSystemName    = "CodeSystemName"
	ColumnCodeSystemVersion = "CodeSystemVersion"
)

// Columns is the canonical order of a concept row. Concept.Values follows it.
var Columns = []string{
	ColumnCode,
	ColumnDisplayName,
	ColumnValueSetOID,
	ColumnValuesetName,
	ColumnCodeSystem,
	ColumnCodeSystemName,
	ColumnCodeSystemVersion,
}

// KeyColumns identify a concept row in the persisted table.
var KeyColumns = []string{ColumnValueSetOID, ColumnCode}

// Concept is one code of a value set, denormalized with the value set it came from.
type Concept struct {
	Code              string `json:"code"`
	DisplayName       string `json:"displayName"`
	ValueSetOID       string `json:"valueSetOid"`
	ValuesetName      string `json:"valuesetName"`
	CodeSystem        string `json:"codeSystem"`
	CodeSystemName    string `json:"codeSystemName"`
	CodeSystemVersion string `json:"codeSystemVersion"`
}

// Values returns the fields of the concept in Columns order.
func (c Concept) Values() []string {
	return []string{
		c.Code,
		c.DisplayName,
		c.ValueSetOID,
		c.ValuesetName,
		c.CodeSystem,
		c.CodeSystemName,
		c.CodeSystemVersion,
	}
}

// Key is the (ValueSetOID, Code) pair the concept is stored under.
func (c Concept) Key() [2]string {
	return [2]string{c.ValueSetOID, c.Code}
}

func (c Concept) trimmed() Concept {
	return Concept{
		Code:              strings.TrimSpace(c.Code),
		DisplayName:       strings.TrimSpace(c.DisplayName),
		ValueSetOID:       strings.TrimSpace(c.ValueSetOID),
		ValuesetName:      strings.TrimSpace(c.ValuesetName),
		CodeSystem:        strings.TrimSpace(c.CodeSystem),
		CodeSystemName:    strings.TrimSpace(c.CodeSystemName),
		CodeSystemVersion: strings.TrimSpace(c.CodeSystemVersion),
	}
}

// Normalize returns a copy of concepts with surrounding whitespace trimmed from every field.
// Order is preserved and applying it twice gives the same result as applying it once.
func Normalize(concepts []Concept) []Concept {
	normalized := make([]Concept, 0, len(concepts))
	for _, c := range concepts {
		normalized = append(normalized, c.trimmed())
	}
	return normalized
}

// NonKeyColumns returns the columns overwritten when a row with the same key already exists.
func NonKeyColumns() []string {
	var nonKey []string
	for _, column := range Columns {
		if !IsKeyColumn(column) {
			nonKey = append(nonKey, column)
		}
	}
	return nonKey
}

func IsKeyColumn(column string) bool {
	for _, key := range KeyColumns {
		if key == column {
			return true
		}
	}
	return false
}
