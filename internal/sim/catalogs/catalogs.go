package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Prefabs PrefabCatalog
	Items   ItemCatalog
}

type PrefabCatalog struct {
	Defs   map[string]PrefabDef
	IDs    []string
	Digest string
}

const (
	KindBuildingBlock = "BUILDING_BLOCK"
	KindDeployable    = "DEPLOYABLE"
)

type PrefabDef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "BUILDING_BLOCK","DEPLOYABLE"

	// Building blocks: max health per grade name. Deployables: Health.
	MaxHealth map[string]float32 `json:"max_health,omitempty"`
	Health    float32            `json:"health,omitempty"`

	Capacity int `json:"capacity,omitempty"`

	byGrade [gradeCount]float32
}

func (d PrefabDef) IsBuildingBlock() bool { return d.Kind == KindBuildingBlock }

// MaxHealthFor is the health cap of an entity of this prefab at grade g.
func (d PrefabDef) MaxHealthFor(g Grade) float32 {
	if !d.IsBuildingBlock() {
		return d.Health
	}
	if !g.Valid() {
		g = Twigs
	}
	return d.byGrade[g]
}

type ItemCatalog struct {
	Defs   map[int32]ItemDef
	Digest string
}

type ItemDef struct {
	ID           int32   `json:"id"`
	ShortName    string  `json:"short_name"`
	MaxStack     int32   `json:"max_stack"`
	MaxCondition float32 `json:"max_condition,omitempty"`
}

// HasCondition reports whether items of this type carry durability.
func (d ItemDef) HasCondition() bool { return d.MaxCondition > 0 }

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadPrefabs(filepath.Join(configDir, "prefabs.json"), &c.Prefabs); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadPrefabs(path string, out *PrefabCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []PrefabDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("prefabs.json: %w", err)
	}
	out.Defs = make(map[string]PrefabDef, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("prefabs.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("prefabs.json: duplicate id %s", d.ID)
		}
		if d.Capacity < 0 {
			return fmt.Errorf("prefabs.json: %s: negative capacity", d.ID)
		}
		switch d.Kind {
		case KindBuildingBlock:
			for _, g := range Grades {
				hp, ok := d.MaxHealth[g.String()]
				if !ok || hp <= 0 {
					return fmt.Errorf("prefabs.json: %s: missing max_health for %s", d.ID, g)
				}
				d.byGrade[g] = hp
			}
			for name := range d.MaxHealth {
				if _, ok := ParseGrade(name); !ok {
					return fmt.Errorf("prefabs.json: %s: unknown grade %q", d.ID, name)
				}
			}
		case KindDeployable:
			if d.Health <= 0 {
				return fmt.Errorf("prefabs.json: %s: health must be > 0", d.ID)
			}
		default:
			return fmt.Errorf("prefabs.json: %s: unknown kind %q", d.ID, d.Kind)
		}
		out.Defs[d.ID] = d
	}

	out.IDs = make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		out.IDs = append(out.IDs, id)
	}
	sort.Strings(out.IDs)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = make(map[int32]ItemDef, len(defs))
	for _, d := range defs {
		if d.ID == 0 {
			return fmt.Errorf("items.json: %q: id must be non-zero", d.ShortName)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %d", d.ID)
		}
		if d.MaxStack <= 0 {
			d.MaxStack = 1
		}
		if d.MaxCondition < 0 {
			return fmt.Errorf("items.json: %s: negative max_condition", d.ShortName)
		}
		out.Defs[d.ID] = d
	}
	return nil
}
