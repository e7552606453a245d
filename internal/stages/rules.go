package stages

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/trinity/guided-upload/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// DtypeRule maps raw dtypes matching Prefix, Contains or Pattern to Type.
type DtypeRule struct {
	Prefix   string          `yaml:"prefix"`
	Contains string          `yaml:"contains"`
	Pattern  string          `yaml:"pattern"`
	Type     models.DataType `yaml:"type"`

	re *regexp.Regexp
}

func (r DtypeRule) matches(dtype string) bool {
	if r.Prefix != "" && strings.HasPrefix(dtype, r.Prefix) {
		return true
	}
	if r.re != nil && r.re.MatchString(dtype) {
		return true
	}
	return r.Contains != "" && strings.Contains(dtype, r.Contains)
}

// Rules holds the column classification tables.
type Rules struct {
	DefaultType        models.DataType `yaml:"default_type"`
	Dtypes             []DtypeRule     `yaml:"dtypes"`
	IdentifierKeywords []string        `yaml:"identifier_keywords"`
	MeasureKeywords    []string        `yaml:"measure_keywords"`
	IdentifierDtypes   []string        `yaml:"identifier_dtypes"`
	MeasureDtypes      []string        `yaml:"measure_dtypes"`
	DatePatterns       []string        `yaml:"date_patterns"`

	datePatterns []*regexp.Regexp
}

// DefaultRules returns the embedded rules.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// LoadRules reads rules from a YAML file. An empty path yields the embedded rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

// ParseRules parses and compiles YAML rules.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if r.DefaultType == "" {
		r.DefaultType = models.DataTypeText
	}
	if !r.DefaultType.Valid() {
		return nil, fmt.Errorf("rules: unknown default_type %q", r.DefaultType)
	}
	for i := range r.Dtypes {
		d := &r.Dtypes[i]
		if !d.Type.Valid() {
			return nil, fmt.Errorf("rules: dtypes[%d]: unknown type %q", i, d.Type)
		}
		if d.Prefix == "" && d.Contains == "" && d.Pattern == "" {
			return nil, fmt.Errorf("rules: dtypes[%d]: prefix, contains or pattern is required", i)
		}
		if d.Pattern != "" {
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rules: dtypes[%d]: pattern %q: %w", i, d.Pattern, err)
			}
			d.re = re
		}
	}
	for _, p := range r.DatePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("rules: date pattern %q: %w", p, err)
		}
		r.datePatterns = append(r.datePatterns, re)
	}
	r.IdentifierKeywords = lowerAll(r.IdentifierKeywords)
	r.MeasureKeywords = lowerAll(r.MeasureKeywords)
	r.IdentifierDtypes = lowerAll(r.IdentifierDtypes)
	r.MeasureDtypes = lowerAll(r.MeasureDtypes)
	return &r, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
