package repository_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/repository"
)

func TestDefaultFleet(t *testing.T) {
	fleet := repository.DefaultFleet()
	require.Len(t, fleet.Airports, 3)
	require.Len(t, fleet.Spaceships, 3)
	require.Equal(t, "Galactic Voyager", fleet.Spaceships[0].Name)
	require.Equal(t, "0b6d8a52-6a4e-4a53-9a41-5f0a7c1e0001", fleet.Spaceships[0].ID.String())
}

func TestParseFleetDerivesStableIDs(t *testing.T) {
	raw := []byte(`
airports:
  - code: AAA
    lat: 1
    lng: 2
spaceships:
  - code: X-1
    name: Test
    location: AAA
`)
	a, err := repository.ParseFleet(raw)
	require.NoError(t, err)
	b, err := repository.ParseFleet(raw)
	require.NoError(t, err)
	require.Equal(t, a.Spaceships[0].ID, b.Spaceships[0].ID)
}

func TestParseFleetRejectsInvalidData(t *testing.T) {
	cases := map[string]string{
		"undeclared airport": "airports: [{code: AAA}]\nspaceships: [{code: X, location: BBB}]",
		"duplicate airport":  "airports: [{code: AAA}, {code: AAA}]",
		"missing code":       "airports: [{lat: 1}]",
		"bad id":             "airports: [{code: AAA}]\nspaceships: [{id: nope, code: X, location: AAA}]",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repository.ParseFleet([]byte(raw))
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	_, err := repository.ParseFleet([]byte("airports: ["))
	require.Error(t, err)
}

func TestLoadFleetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("airports: [{code: AAA, lat: 1, lng: 2}]\n"), 0o600))
	fleet, err := repository.LoadFleet(path)
	require.NoError(t, err)
	require.Len(t, fleet.Airports, 1)

	fleet, err = repository.LoadFleet("")
	require.NoError(t, err)
	require.Len(t, fleet.Airports, 3)

	_, err = repository.LoadFleet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
