package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlRoomFile is the top-level YAML structure for room definition files.
type yamlRoomFile struct {
	Rooms []yamlRoom `yaml:"rooms"`
}

// yamlRoom is the YAML representation of a room.
type yamlRoom struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Topic    string   `yaml:"topic"`
	Private  bool     `yaml:"private"`
	Capacity int      `yaml:"capacity"`
	Invited  []string `yaml:"invited"`
}

// LoadRoomsFromBytes parses room definitions from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the room schema.
// Postcondition: Returns the parsed rooms or a non-nil error.
func LoadRoomsFromBytes(data []byte) ([]*Room, error) {
	var file yamlRoomFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing room YAML: %w", err)
	}

	rooms := make([]*Room, 0, len(file.Rooms))
	for _, yr := range file.Rooms {
		room := &Room{
			ID:       yr.ID,
			Name:     yr.Name,
			Topic:    yr.Topic,
			Private:  yr.Private,
			Capacity: yr.Capacity,
			Invited:  yr.Invited,
		}
		if err := room.Validate(); err != nil {
			return nil, fmt.Errorf("validating room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// LoadRoomsFromFile reads and validates a single room YAML file.
//
// Precondition: path must point to a valid YAML room file.
// Postcondition: Returns the validated rooms or a non-nil error.
func LoadRoomsFromFile(path string) ([]*Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading room file %s: %w", path, err)
	}
	rooms, err := LoadRoomsFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return rooms, nil
}

// LoadCatalogFromDir loads all YAML files in a directory into a Catalog.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns a Catalog of all validated rooms or the first error
// encountered.
func LoadCatalogFromDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rooms directory %s: %w", dir, err)
	}

	var all []*Room
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		rooms, err := LoadRoomsFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, rooms...)
	}

	return NewCatalog(all)
}
