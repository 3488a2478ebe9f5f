package vsac

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultEndpoint = "https://vsac.nlm.nih.gov/vsac/svs/RetrieveMultipleValueSets"
	DefaultUsername = "apikey"
	DefaultErrorDir = "."
)

type Config struct {
	Endpoint          string  `validate:"required,url"`
	Username          string  `validate:"required"`
	APIKey            string  `validate:"required"`
	Workers           int     `validate:"min=1,max=32"`
	RequestsPerSecond float64 `validate:"min=0"`
	ErrorDir          string  `validate:"required"`
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid VSAC configuration: %w", err)
	}
	return nil
}
