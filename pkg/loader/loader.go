// Package loader reads pipeline definitions from disk.
//
// YAML (.yml, .yaml) is the primary format. JSON files (.json, .jsonc) may
// carry comments and trailing commas.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/matrix"
	"github.com/opnlabs/dotc/pkg/models"
)

type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("axisname", func(fl validator.FieldLevel) bool {
		return matrix.ValidAxisName(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// FormatFromPath picks the input format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return YAML, nil
	case ".json", ".jsonc":
		return JSON, nil
	}
	return "", fmt.Errorf("unknown definition format for %s", path)
}

// Load reads, parses and validates the definition at path.
func Load(path string) (*models.Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := Parse(contents, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition. Unknown keys are rejected.
func Parse(data []byte, format Format) (*models.Definition, error) {
	var def models.Definition
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseParse, "").WithDetail("%v", err)
		}
	case JSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseParse, "").WithDetail("%v", err)
		}
	default:
		return nil, fmt.Errorf("unknown definition format %q", format)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate runs the struct level checks of a definition.
func Validate(def *models.Definition) error {
	if err := validate.Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			names := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				names = append(names, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return diag.New(diag.ErrInvalidDefinition, diag.PhaseParse, def.Project.ID, names...)
		}
		return diag.New(diag.ErrInvalidDefinition, diag.PhaseParse, def.Project.ID).WithDetail("%v", err)
	}
	if len(def.Stages) > 0 && len(def.Builds) > 0 {
		return diag.New(diag.ErrInvalidDefinition, diag.PhaseParse, def.Project.ID).
			WithDetail("declare either stages or a flat builds list, not both")
	}
	return nil
}
