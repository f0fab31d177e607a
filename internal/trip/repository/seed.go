package repository

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/example/spaceryder/internal/trip/domain"
)

//go:embed fleet.yaml
var defaultFleet []byte

// Fleet is the reference data a repository starts with.
type Fleet struct {
	Airports   []domain.Airport
	Spaceships []domain.Spaceship
}

type fleetFile struct {
	Airports []struct {
		Code string  `yaml:"code"`
		Lat  float64 `yaml:"lat"`
		Lng  float64 `yaml:"lng"`
	} `yaml:"airports"`
	Spaceships []struct {
		ID       string `yaml:"id"`
		Code     string `yaml:"code"`
		Name     string `yaml:"name"`
		Location string `yaml:"location"`
	} `yaml:"spaceships"`
}

// fleetNamespace derives stable ids for spaceships declared without one.
var fleetNamespace = uuid.MustParse("0b6d8a52-6a4e-4a53-9a41-5f0a7c1e0000")

// DefaultFleet returns the built-in airports and spaceships.
func DefaultFleet() Fleet {
	f, err := ParseFleet(defaultFleet)
	if err != nil {
		panic(fmt.Sprintf("embedded fleet: %v", err))
	}
	return f
}

// LoadFleet reads a fleet file. An empty path yields DefaultFleet.
func LoadFleet(path string) (Fleet, error) {
	if path == "" {
		return DefaultFleet(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}
	return ParseFleet(raw)
}

// ParseFleet decodes YAML fleet data and validates that every spaceship is
// docked at a declared airport.
func ParseFleet(raw []byte) (Fleet, error) {
	var file fleetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Fleet{}, fmt.Errorf("decode fleet: %w", err)
	}
	var fleet Fleet
	codes := make(map[string]struct{}, len(file.Airports))
	for _, a := range file.Airports {
		code := strings.TrimSpace(a.Code)
		if code == "" {
			return Fleet{}, fmt.Errorf("%w: airport without code", domain.ErrInvalidInput)
		}
		if _, dup := codes[code]; dup {
			return Fleet{}, fmt.Errorf("%w: duplicate airport %s", domain.ErrInvalidInput, code)
		}
		codes[code] = struct{}{}
		fleet.Airports = append(fleet.Airports, domain.Airport{Code: code, Location: domain.GeoPoint{Lat: a.Lat, Lng: a.Lng}})
	}
	for _, s := range file.Spaceships {
		if _, ok := codes[s.Location]; !ok {
			return Fleet{}, fmt.Errorf("%w: spaceship %s docked at undeclared airport %q", domain.ErrInvalidInput, s.Code, s.Location)
		}
		id := uuid.NewSHA1(fleetNamespace, []byte(s.Code))
		if s.ID != "" {
			parsed, err := uuid.Parse(s.ID)
			if err != nil {
				return Fleet{}, fmt.Errorf("%w: spaceship %s id: %v", domain.ErrInvalidInput, s.Code, err)
			}
			id = parsed
		}
		fleet.Spaceships = append(fleet.Spaceships, domain.Spaceship{ID: id, Code: s.Code, Name: s.Name, Location: s.Location})
	}
	return fleet, nil
}
