package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Station is one GHCN-D weather station counted toward the corridor's
// regional weather aggregate.
type Station struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	State string `yaml:"state,omitempty"`
}

// CorridorStations is the parsed corridor station definition file.
type CorridorStations struct {
	Corridor string    `yaml:"corridor"`
	Stations []Station `yaml:"stations"`
}

// LoadStations reads the corridor station definition YAML. Duplicate
// station ids are dropped, keeping the first occurrence.
func LoadStations(path string) (*CorridorStations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read stations file %s", path)
	}

	var cs CorridorStations
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, eris.Wrapf(err, "config: parse stations file %s", path)
	}
	if len(cs.Stations) == 0 {
		return nil, eris.Errorf("config: stations file %s lists no stations", path)
	}

	seen := make(map[string]bool, len(cs.Stations))
	var out []Station
	for _, st := range cs.Stations {
		if st.ID == "" || seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	cs.Stations = out

	return &cs, nil
}
