package valueset

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// SVSNamespace is the IHE Sharing Value Sets namespace used by VSAC responses.
const SVSNamespace = "urn:ihe:iti:svs:2008"

const (
	describedValueSetElement = "DescribedValueSet"
	conceptElement           = "Concept"
)

var (
	ErrNoElement          = errors.New("no element found")
	ErrJunkAfterDocument  = errors.New("junk after document element")
	ErrTextOutsideElement = errors.New("text outside document element")
	ErrUnboundPrefix      = errors.New("unbound prefix")
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// Extract reads an SVS RetrieveMultipleValueSets response and returns one Concept per
// Concept element found below the document root, in document order. Every concept is
// stamped with the ID and displayName of the first DescribedValueSet element of the
// document; both are empty if the document has none. Missing attributes become empty
// strings. Any well-formedness problem is returned as an error and no concepts are returned.
func Extract(r io.Reader) ([]Concept, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	concepts := []Concept{}
	var (
		valueSetOID   string
		valueSetName  string
		valueSetFound bool
		rootSeen      bool
		depth         int
		// namespaces declared by each open element, innermost last
		scopes [][]string
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse value set response: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			scopes = append(scopes, declaredNamespaces(t))
			if err := checkPrefixes(t, scopes); err != nil {
				return nil, fmt.Errorf("parse value set response: %w", err)
			}
			if depth == 0 {
				if rootSeen {
					return nil, fmt.Errorf("parse value set response: %w", ErrJunkAfterDocument)
				}
				rootSeen = true
			} else if t.Name.Space == SVSNamespace {
				switch t.Name.Local {
				case describedValueSetElement:
					if !valueSetFound {
						valueSetFound = true
						valueSetOID = attribute(t, "ID")
						valueSetName = attribute(t, "displayName")
					}
				case conceptElement:
					concepts = append(concepts, Concept{
						Code:              attribute(t, "code"),
						DisplayName:       attribute(t, "displayName"),
						CodeSystem:        attribute(t, "codeSystem"),
						CodeSystemName:    attribute(t, "codeSystemName"),
						CodeSystemVersion: attribute(t, "codeSystemVersion"),
					})
				}
			}
			depth++
		case xml.EndElement:
			scopes = scopes[:len(scopes)-1]
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("parse value set response: %w", ErrTextOutsideElement)
			}
		}
	}

	if !rootSeen {
		return nil, fmt.Errorf("parse value set response: %w", ErrNoElement)
	}

	for i := range concepts {
		concepts[i].ValueSetOID = valueSetOID
		concepts[i].ValuesetName = valueSetName
	}
	return concepts, nil
}

// attribute returns the value of an unqualified attribute, or "" when it is not present.
func attribute(element xml.StartElement, name string) string {
	for _, attr := range element.Attr {
		if attr.Name.Space == "" && attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func declaredNamespaces(element xml.StartElement) []string {
	var declared []string
	for _, attr := range element.Attr {
		if attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns") {
			declared = append(declared, attr.Value)
		}
	}
	return declared
}

// checkPrefixes fails when the decoder left a prefix untranslated on the element or one of
// its attributes, which it does when no enclosing element declares that prefix.
func checkPrefixes(element xml.StartElement, scopes [][]string) error {
	if !inScope(element.Name.Space, scopes) {
		return fmt.Errorf("%w %q on element %s", ErrUnboundPrefix, element.Name.Space, element.Name.Local)
	}
	for _, attr := range element.Attr {
		if attr.Name.Space == "xmlns" {
			continue
		}
		if !inScope(attr.Name.Space, scopes) {
			return fmt.Errorf("%w %q on attribute %s", ErrUnboundPrefix, attr.Name.Space, attr.Name.Local)
		}
	}
	return nil
}

func inScope(space string, scopes [][]string) bool {
	if space == "" || space == xmlNamespace {
		return true
	}
	for _, declared := range scopes {
		for _, uri := range declared {
			if uri == space {
				return true
			}
		}
	}
	return false
}
