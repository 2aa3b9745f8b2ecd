package points

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/pointapi"
)

//go:embed points.yaml
var defaultCatalog []byte

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("points: invalid catalog")

var validate = validator.New()

// objectTypes maps catalog type names to BACnet object types.
var objectTypes = map[string]bacnet.ObjectType{
	"analog_input":  bacnet.OBJECT_ANALOG_INPUT,
	"analog_output": bacnet.OBJECT_ANALOG_OUTPUT,
	"analog_value":  bacnet.OBJECT_ANALOG_VALUE,
	"binary_input":  bacnet.OBJECT_BINARY_INPUT,
	"binary_output": bacnet.OBJECT_BINARY_OUTPUT,
	"binary_value":  bacnet.OBJECT_BINARY_VALUE,
}

// Catalog lists the points to create and how analog values move.
type Catalog struct {
	Analog AnalogSettings `yaml:"analog"`
	Binary BinarySettings `yaml:"binary"`
	Points []PointSpec    `yaml:"points" validate:"min=1,dive"`
}

// AnalogSettings bounds the analog sweep: values rise by Step and wrap from
// Max back towards Min.
type AnalogSettings struct {
	Min          float32 `yaml:"min"`
	Max          float32 `yaml:"max" validate:"gtfield=Min"`
	Step         float32 `yaml:"step" validate:"gt=0"`
	PresentValue float32 `yaml:"present_value"`
	Units        uint32  `yaml:"units"`
}

type BinarySettings struct {
	PresentValue uint32 `yaml:"present_value" validate:"lte=1"`
	InactiveText string `yaml:"inactive_text"`
	ActiveText   string `yaml:"active_text"`
}

// PointSpec is one catalog entry. Description and Name default to
// "Test object <type>" and "test_<type>".
type PointSpec struct {
	Type        string `yaml:"type" validate:"required,oneof=analog_input analog_output analog_value binary_input binary_output binary_value"`
	Instance    uint32 `yaml:"instance" validate:"lte=4194302"`
	Description string `yaml:"description"`
	Name        string `yaml:"name"`
}

// ObjectType returns the BACnet object type of the entry.
func (p PointSpec) ObjectType() bacnet.ObjectType {
	return objectTypes[p.Type]
}

// camelType returns the type in lowerCamel form, e.g. analogInput.
func (p PointSpec) camelType() string {
	parts := strings.Split(p.Type, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return Catalog{}, fmt.Errorf("reading catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := validate.Struct(&c); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for i := range c.Points {
		p := &c.Points[i]
		if p.Description == "" {
			p.Description = "Test object " + p.Type
		}
		if p.Name == "" {
			p.Name = "test_" + p.Type
		}
	}
	return c, nil
}

// Request builds the create request for p.
func (c Catalog) Request(p PointSpec) *pointapi.CreateLocalObjectRequest {
	props := []pointapi.PropertyValue{
		{Property: bacnet.PROP_DESCRIPTION, Value: pointapi.CharacterString(p.Description)},
		{Property: bacnet.PROP_OBJECT_IDENTIFIER, Value: pointapi.CharacterString(p.camelType())},
		{Property: bacnet.PROP_OBJECT_NAME, Value: pointapi.CharacterString(p.Name)},
	}
	if p.ObjectType().IsAnalog() {
		props = append(props,
			pointapi.PropertyValue{Property: bacnet.PROP_PRESENT_VALUE, Value: pointapi.Real(c.Analog.PresentValue)},
			pointapi.PropertyValue{Property: bacnet.PROP_UNITS, Value: pointapi.Enumerated(c.Analog.Units)},
		)
	} else {
		props = append(props,
			pointapi.PropertyValue{Property: bacnet.PROP_PRESENT_VALUE, Value: pointapi.Enumerated(c.Binary.PresentValue)},
			pointapi.PropertyValue{Property: bacnet.PROP_INACTIVE_TEXT, Value: pointapi.CharacterString(c.Binary.InactiveText)},
			pointapi.PropertyValue{Property: bacnet.PROP_ACTIVE_TEXT, Value: pointapi.CharacterString(c.Binary.ActiveText)},
		)
	}
	id := pointapi.ObjectID{ObjectType: p.ObjectType(), Instance: p.Instance}
	return pointapi.NewCreateLocalObjectRequest(id, props)
}
