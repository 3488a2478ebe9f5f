package valueset

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	type testStruct struct {
		testName         string
		pathToFile       string
		expectedConcepts []Concept
	}

	twoConcepts := testStruct{testName: "twoConcepts", pathToFile: "../resources/twoConcepts.xml", expectedConcepts: []Concept{
		{Code: "A1", DisplayName: "Alpha", ValueSetOID: "OID-1", ValuesetName: "Test Set"},
		{Code: "A2", DisplayName: "Beta", ValueSetOID: "OID-1", ValuesetName: "Test Set"},
	}}
	officeVisit := testStruct{testName: "officeVisit", pathToFile: "../resources/officeVisit.xml", expectedConcepts: []Concept{
		{Code: "185463005", DisplayName: "Visit out of hours (procedure)", ValueSetOID: "2.16.840.1.113883.3.464.1003.101.12.1001", ValuesetName: "Office Visit", CodeSystem: "2.16.840.1.113883.6.96", CodeSystemName: "SNOMEDCT", CodeSystemVersion: "2024-03"},
		{Code: "99202", DisplayName: "Office or other outpatient visit for the evaluation and management of a new patient", ValueSetOID: "2.16.840.1.113883.3.464.1003.101.12.1001", ValuesetName: "Office Visit", CodeSystem: "2.16.840.1.113883.6.12", CodeSystemName: "CPT", CodeSystemVersion: "2024"},
		{Code: "99212", DisplayName: "Office or other outpatient visit for the evaluation and management of an established patient", ValueSetOID: "2.16.840.1.113883.3.464.1003.101.12.1001", ValuesetName: "Office Visit", CodeSystem: "2.16.840.1.113883.6.12", CodeSystemName: "CPT", CodeSystemVersion: "2024"},
	}}
	noConcepts := testStruct{testName: "noConcepts", pathToFile: "../resources/noConcepts.xml", expectedConcepts: []Concept{}}
	noValueSet := testStruct{testName: "noValueSet", pathToFile: "../resources/noValueSet.xml", expectedConcepts: []Concept{
		{Code: "X1", DisplayName: "Orphan", CodeSystem: "2.16.840.1.113883.6.96"},
	}}
	foreignNamespace := testStruct{testName: "foreignNamespace", pathToFile: "../resources/foreignNamespace.xml", expectedConcepts: []Concept{
		{Code: "K1", DisplayName: "Kept", ValueSetOID: "OID-2", ValuesetName: "Mixed", CodeSystem: "2.16.840.1.113883.6.90", CodeSystemName: "ICD10CM", CodeSystemVersion: "2024"},
	}}
	multipleValueSets := testStruct{testName: "multipleValueSets", pathToFile: "../resources/multipleValueSets.xml", expectedConcepts: []Concept{
		{Code: "F1", DisplayName: "First one", ValueSetOID: "OID-FIRST", ValuesetName: "First"},
		{Code: "S1", DisplayName: "Second one", ValueSetOID: "OID-FIRST", ValuesetName: "First"},
	}}

	testScenarios := []testStruct{twoConcepts, officeVisit, noConcepts, noValueSet, foreignNamespace, multipleValueSets}

	for _, scenario := range testScenarios {
		file, err := os.Open(scenario.pathToFile)
		require.NoError(t, err, "Scenario: "+scenario.testName+" could not open fixture")

		concepts, err := Extract(file)
		file.Close()

		assert.NoError(t, err, "Scenario: "+scenario.testName+" failed")
		assert.Equal(t, scenario.expectedConcepts, concepts, "Scenario: "+scenario.testName+" failed")
	}
}

func TestExtractNConceptsInDocumentOrder(t *testing.T) {
	var doc strings.Builder
	doc.WriteString(`<r xmlns:s="urn:ihe:iti:svs:2008"><s:DescribedValueSet ID="OID-N" displayName="Numbers"><s:ConceptList>`)
	codes := []string{"5", "3", "9", "1", "7", "2"}
	for _, code := range codes {
		doc.WriteString(`<s:Concept code="` + code + `"/>`)
	}
	doc.WriteString(`</s:ConceptList></s:DescribedValueSet></r>`)

	concepts, err := Extract(strings.NewReader(doc.String()))
	require.NoError(t, err)
	require.Len(t, concepts, len(codes))
	for i, concept := range concepts {
		assert.Equal(t, codes[i], concept.Code)
		assert.Equal(t, "OID-N", concept.ValueSetOID)
		assert.Equal(t, "Numbers", concept.ValuesetName)
	}
}

func TestExtractMissingAttributesAreEmpty(t *testing.T) {
	doc := `<r xmlns="urn:ihe:iti:svs:2008"><DescribedValueSet><Concept/></DescribedValueSet></r>`

	concepts, err := Extract(strings.NewReader(doc))

	require.NoError(t, err)
	assert.Equal(t, []Concept{{}}, concepts)
}

func TestExtractValueSetAfterConcepts(t *testing.T) {
	doc := `<r xmlns="urn:ihe:iti:svs:2008"><Concept code="C1"/><DescribedValueSet ID="LATE" displayName="Late"/></r>`

	concepts, err := Extract(strings.NewReader(doc))

	require.NoError(t, err)
	assert.Equal(t, []Concept{{Code: "C1", ValueSetOID: "LATE", ValuesetName: "Late"}}, concepts)
}

func TestExtractRootIsNotAConcept(t *testing.T) {
	doc := `<Concept xmlns="urn:ihe:iti:svs:2008" code="ROOT"><Concept code="CHILD"/></Concept>`

	concepts, err := Extract(strings.NewReader(doc))

	require.NoError(t, err)
	assert.Equal(t, []Concept{{Code: "CHILD"}}, concepts)
}

func TestExtractMalformed(t *testing.T) {
	type testStruct struct {
		testName      string
		body          string
		expectedError error
	}

	emptyBody := testStruct{testName: "emptyBody", body: "", expectedError: ErrNoElement}
	whitespaceBody := testStruct{testName: "whitespaceBody", body: "  \n ", expectedError: ErrNoElement}
	plainText := testStruct{testName: "plainText", body: "Unauthorized", expectedError: ErrTextOutsideElement}
	twoRoots := testStruct{testName: "twoRoots", body: "<a/><b/>", expectedError: ErrJunkAfterDocument}
	unclosedRoot := testStruct{testName: "unclosedRoot", body: `<r xmlns="urn:ihe:iti:svs:2008"><Concept code="A"/>`}
	mismatchedTags := testStruct{testName: "mismatchedTags", body: "<a><b></a></b>"}
	undeclaredPrefix := testStruct{testName: "undeclaredPrefix", body: `<ns0:r><ns0:Concept code="A"/></ns0:r>`, expectedError: ErrUnboundPrefix}
	prefixOutOfScope := testStruct{testName: "prefixOutOfScope", body: `<r><a xmlns:s="urn:ihe:iti:svs:2008"/><s:Concept code="A"/></r>`, expectedError: ErrUnboundPrefix}
	undeclaredAttributePrefix := testStruct{testName: "undeclaredAttributePrefix", body: `<r xmlns="urn:ihe:iti:svs:2008"><Concept x:code="A"/></r>`, expectedError: ErrUnboundPrefix}

	testScenarios := []testStruct{emptyBody, whitespaceBody, plainText, twoRoots, unclosedRoot, mismatchedTags, undeclaredPrefix, prefixOutOfScope, undeclaredAttributePrefix}

	for _, scenario := range testScenarios {
		concepts, err := Extract(strings.NewReader(scenario.body))
		assert.Nil(t, concepts, "Scenario: "+scenario.testName+" should not return concepts")
		if assert.Error(t, err, "Scenario: "+scenario.testName+" should have returned error") && scenario.expectedError != nil {
			assert.True(t, errors.Is(err, scenario.expectedError), "Scenario: "+scenario.testName+" returned unexpected error "+err.Error())
		}
	}
}

func TestExtractHTMLErrorPage(t *testing.T) {
	file, err := os.Open("../resources/notXml.html")
	require.NoError(t, err)
	defer file.Close()

	concepts, err := Extract(file)

	assert.Nil(t, concepts)
	assert.Error(t, err)
}

func TestExtractDeclaredEncoding(t *testing.T) {
	// "Caf\xe9" is ISO-8859-1 for Café
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		"<r xmlns=\"urn:ihe:iti:svs:2008\"><DescribedValueSet ID=\"X\" displayName=\"Caf\xe9 set\">" +
		"<Concept code=\"A\" displayName=\"Caf\xe9\"/></DescribedValueSet></r>"

	concepts, err := Extract(strings.NewReader(doc))

	require.NoError(t, err)
	assert.Equal(t, []Concept{{Code: "A", DisplayName: "Café", ValueSetOID: "X", ValuesetName: "Café set"}}, concepts)
}

func TestExtractXMLPrefixNeedsNoDeclaration(t *testing.T) {
	doc := `<r xmlns="urn:ihe:iti:svs:2008" xml:lang="en"><Concept code="A" xml:lang="en"/></r>`

	concepts, err := Extract(strings.NewReader(doc))

	require.NoError(t, err)
	assert.Equal(t, []Concept{{Code: "A"}}, concepts)
}
