// Package params loads transformation parameter files.
//
// A parameter file is a JSON (or YAML, by extension) object:
//
//	{"transformation": "gaussian_blur", "sigma": 2.5, "factor": 1.0}
//
// Every key is optional. A missing transformation means grayscale, a missing
// sigma or factor takes its default. An unrecognised transformation name is
// kept as is so the task fails visibly instead of silently doing grayscale.
package params

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
	"github.com/ironsheep/image-lifecycle/internal/imaging"
)

// Params is a decoded parameter file with defaults applied.
type Params struct {
	Transformation string
	Options        imaging.Options
}

// fileFormat mirrors the on-disk schema. Pointers distinguish "absent" from zero.
type fileFormat struct {
	Transformation string   `json:"transformation" yaml:"transformation"`
	Sigma          *float64 `json:"sigma" yaml:"sigma"`
	Factor         *float64 `json:"factor" yaml:"factor"`
}

// Default returns grayscale with default options.
func Default() Params {
	return Params{
		Transformation: string(imaging.DefaultKind),
		Options:        imaging.DefaultOptions(),
	}
}

// Load reads and decodes the parameter file at path.
//
// On any read or parse failure Load returns Default() together with a
// config-category error; callers report the error and carry on with the
// returned defaults.
func Load(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), apperrors.Wrap(apperrors.CategoryConfig, "params.read", err)
	}
	return Parse(data, formatFor(path))
}

// Parse decodes raw parameter data in the given format ("json" or "yaml").
func Parse(data []byte, format string) (Params, error) {
	var f fileFormat
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = sonic.Unmarshal(data, &f)
	}
	if err != nil {
		return Default(), apperrors.Wrap(apperrors.CategoryConfig, "params.parse", fmt.Errorf("%s: %w", format, err))
	}

	p := Default()
	if t := strings.TrimSpace(f.Transformation); t != "" {
		p.Transformation = t
	}
	if f.Sigma != nil {
		p.Options.Sigma = *f.Sigma
	}
	if f.Factor != nil {
		p.Options.Factor = *f.Factor
	}
	return p, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
