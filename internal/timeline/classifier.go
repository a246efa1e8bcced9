package timeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"drive-ally/internal/nav"
)

// Hazards is the classification of one maneuver step.
type Hazards struct {
	SteepGrade bool
	Highway    bool
}

// Classifier decides which hazard warnings a step deserves. Implementations
// must be pure.
type Classifier interface {
	Classify(step nav.ManeuverStep) Hazards
}

// KeywordClassifier matches street names case-insensitively against keyword
// lists.
type KeywordClassifier struct {
	SteepGrade []string `yaml:"steep_grade" validate:"dive,required"`
	Highway    []string `yaml:"highway" validate:"dive,required"`
}

// DefaultKeywords covers English names plus the Brazilian Portuguese markers
// the app was first tuned on.
func DefaultKeywords() KeywordClassifier {
	return KeywordClassifier{
		SteepGrade: []string{"hill", "ladeira", "serra", "morro", "alto da"},
		Highway:    []string{"highway", "expressway", "motorway", "freeway", "ring road", "br-", "rodovia", "anel", "via expressa"},
	}
}

func (k KeywordClassifier) Classify(step nav.ManeuverStep) Hazards {
	name := strings.ToLower(step.Name)
	if name == "" {
		return Hazards{}
	}
	return Hazards{
		SteepGrade: containsAny(name, k.SteepGrade),
		Highway:    containsAny(name, k.Highway),
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// LoadKeywords reads a keyword set from a YAML file. Missing lists fall back
// to the defaults.
func LoadKeywords(path string) (KeywordClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordClassifier{}, err
	}
	var k KeywordClassifier
	if err := yaml.Unmarshal(data, &k); err != nil {
		return KeywordClassifier{}, fmt.Errorf("parse keywords %s: %w", path, err)
	}
	if err := validator.New().Struct(k); err != nil {
		return KeywordClassifier{}, fmt.Errorf("validate keywords %s: %w", path, err)
	}
	def := DefaultKeywords()
	if len(k.SteepGrade) == 0 {
		k.SteepGrade = def.SteepGrade
	}
	if len(k.Highway) == 0 {
		k.Highway = def.Highway
	}
	return k, nil
}
