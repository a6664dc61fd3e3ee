// pattern: Imperative Shell

package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"coderoom/internal/room"
)

// seedFile is the on-disk shape of the rooms seed file:
//
//	rooms:
//	  - id: abc123
//	    created_by: u1
//	    mode: teaching
//	    max_users: 2
//	    language: javascript
type seedFile struct {
	Rooms []seedRoom `yaml:"rooms"`
}

type seedRoom struct {
	ID        string `yaml:"id"`
	CreatedBy string `yaml:"created_by"`
	Mode      string `yaml:"mode"`
	MaxUsers  int    `yaml:"max_users"`
	Language  string `yaml:"language"`
}

// LoadSeed reads and validates the rooms seed file. A missing file is not
// an error; it yields no rooms.
func LoadSeed(path string) ([]room.Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	rooms := make([]room.Room, 0, len(sf.Rooms))
	for i, sr := range sf.Rooms {
		if sr.ID == "" {
			return nil, fmt.Errorf("seed room %d: id is required", i)
		}
		if sr.CreatedBy == "" {
			return nil, fmt.Errorf("seed room %q: created_by is required", sr.ID)
		}
		mode, err := room.ParseMode(sr.Mode)
		if err != nil {
			return nil, fmt.Errorf("seed room %q: %w", sr.ID, err)
		}
		if sr.MaxUsers <= 0 {
			sr.MaxUsers = 2
		}
		if sr.Language == "" {
			sr.Language = "javascript"
		}
		rooms = append(rooms, room.Room{
			ID:        sr.ID,
			CreatedBy: sr.CreatedBy,
			Mode:      mode,
			MaxUsers:  sr.MaxUsers,
			Language:  sr.Language,
		})
	}
	return rooms, nil
}

// ApplySeed upserts every seed room into the store.
func ApplySeed(ctx context.Context, s *SQLite, rooms []room.Room) error {
	for i := range rooms {
		if err := s.UpsertRoom(ctx, &rooms[i]); err != nil {
			return err
		}
	}
	return nil
}
