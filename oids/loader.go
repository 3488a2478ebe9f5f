package oids

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Financial-Times/go-logger/v2"
)

const DefaultColumn = "OID"

var ErrColumnNotFound = errors.New("identifier column not found")

// Load reads the value set identifiers held in column of the CSV file at path.
// The first row of the file is the header. Values are trimmed; blank values are skipped
// with a warning, duplicates are kept.
func Load(path string, column string, log *logger.UPPLogger) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identifier file: %w", err)
	}
	defer file.Close()

	ids, err := Read(file, column, log)
	if err != nil {
		return nil, fmt.Errorf("read identifier file %s: %w", path, err)
	}
	return ids, nil
}

func Read(r io.Reader, column string, log *logger.UPPLogger) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %q (file is empty)", ErrColumnNotFound, column)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := columnIndex(header, column)
	if index < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}

	ids := []string{}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}

		var id string
		if index < len(record) {
			id = strings.TrimSpace(record[index])
		}
		if id == "" {
			log.WithFields(map[string]interface{}{"row": row, "column": column}).Warn("Skipping blank value set identifier")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func columnIndex(header []string, column string) int {
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		if strings.TrimSpace(name) == column {
			return i
		}
	}
	return -1
}
