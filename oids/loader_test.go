package oids

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Financial-Times/go-logger/v2"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createLogger() *logger.UPPLogger {
	log := logger.NewUPPLogger("vsac-valueset-loader-test", "INFO")
	log.Out = io.Discard
	return log
}

func TestLoad(t *testing.T) {
	log := createLogger()
	hook := logtest.NewLocal(log.Logger)

	ids, err := Load("../resources/oids.csv", DefaultColumn, log)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"2.16.840.1.113883.3.464.1003.101.12.1001",
		"2.16.840.1.113883.3.464.1003.101.12.1016",
		"2.16.840.1.113883.3.464.1003.101.12.1001",
	}, ids)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Skipping blank value set identifier", hook.LastEntry().Message)
	assert.Equal(t, 3, hook.LastEntry().Data["row"])
}

func TestLoadFailures(t *testing.T) {
	type testStruct struct {
		testName      string
		path          string
		column        string
		expectedError string
	}

	missingFile := testStruct{testName: "missingFile", path: "../resources/doesNotExist.csv", column: DefaultColumn, expectedError: "open identifier file"}
	missingColumn := testStruct{testName: "missingColumn", path: "../resources/noOidColumn.csv", column: DefaultColumn, expectedError: "identifier column not found"}
	wrongColumnName := testStruct{testName: "wrongColumnName", path: "../resources/oids.csv", column: "ValueSetOID", expectedError: "identifier column not found"}

	testScenarios := []testStruct{missingFile, missingColumn, wrongColumnName}

	for _, scenario := range testScenarios {
		ids, err := Load(scenario.path, scenario.column, createLogger())
		assert.Nil(t, ids, "Scenario: "+scenario.testName+" failed")
		if assert.Error(t, err, "Scenario: "+scenario.testName+" should have returned error") {
			assert.Contains(t, err.Error(), scenario.expectedError, "Scenario: "+scenario.testName+" returned unexpected error")
		}
	}
}

func TestRead(t *testing.T) {
	type testStruct struct {
		testName    string
		input       string
		column      string
		expectedIDs []string
	}

	singleColumn := testStruct{testName: "singleColumn", input: "OID\nOID-1\nOID-2\n", column: "OID", expectedIDs: []string{"OID-1", "OID-2"}}
	otherColumnOrder := testStruct{testName: "otherColumnOrder", input: "Name,OID\nFirst,OID-1\nSecond, OID-2 \n", column: "OID", expectedIDs: []string{"OID-1", "OID-2"}}
	byteOrderMark := testStruct{testName: "byteOrderMark", input: "\uFEFFOID,Name\nOID-1,First\n", column: "OID", expectedIDs: []string{"OID-1"}}
	paddedHeader := testStruct{testName: "paddedHeader", input: " OID ,Name\nOID-1,First\n", column: "OID", expectedIDs: []string{"OID-1"}}
	shortRow := testStruct{testName: "shortRow", input: "Name,OID\nFirst\nSecond,OID-2\n", column: "OID", expectedIDs: []string{"OID-2"}}
	headerOnly := testStruct{testName: "headerOnly", input: "OID\n", column: "OID", expectedIDs: []string{}}
	quotedValues := testStruct{testName: "quotedValues", input: "OID,Name\n\"OID-1\",\"Office, Visit\"\n", column: "OID", expectedIDs: []string{"OID-1"}}
	duplicatesKept := testStruct{testName: "duplicatesKept", input: "OID\nOID-1\nOID-1\n", column: "OID", expectedIDs: []string{"OID-1", "OID-1"}}

	testScenarios := []testStruct{singleColumn, otherColumnOrder, byteOrderMark, paddedHeader, shortRow, headerOnly, quotedValues, duplicatesKept}

	for _, scenario := range testScenarios {
		ids, err := Read(strings.NewReader(scenario.input), scenario.column, createLogger())
		assert.NoError(t, err, "Scenario: "+scenario.testName+" failed")
		assert.Equal(t, scenario.expectedIDs, ids, "Scenario: "+scenario.testName+" failed")
	}
}

func TestReadEmptyInput(t *testing.T) {
	ids, err := Read(strings.NewReader(""), DefaultColumn, createLogger())

	assert.Nil(t, ids)
	assert.True(t, errors.Is(err, ErrColumnNotFound))
}

func TestReadMalformedRow(t *testing.T) {
	ids, err := Read(strings.NewReader("OID\n\"OID-1\n"), DefaultColumn, createLogger())

	assert.Nil(t, ids)
	assert.Error(t, err)
}
