package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pathmap"
	"github.com/c360/confsync/pkg/timestamp"
)

// Snapshot is the last configuration tree known to have been fully applied
// to live state, together with a monotonically increasing logical version
// and a per-section modification cache. A snapshot is owned by its Store;
// Version and UpdatedAt are managed by Save, never by callers.
type Snapshot struct {
	Tree      *configtree.Tree
	Version   int64
	UpdatedAt int64 // Unix ms, set on Save
	Modified  ModifiedDateCache
}

// Empty returns the version-0 snapshot used on first boot, before any
// record exists in the store.
func Empty() *Snapshot {
	return &Snapshot{
		Tree:     configtree.NewTree(),
		Modified: ModifiedDateCache{},
	}
}

// Clone returns a deep copy sharing nothing with the original.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Modified:  s.Modified.Clone(),
	}
	if s.Tree != nil {
		out.Tree = s.Tree.Clone()
	} else {
		out.Tree = configtree.NewTree()
	}
	return out
}

// ModifiedDateCache maps a top-level section name to the latest
// modification time (Unix ms) among the files that own paths in that
// section. It answers "did this section change since T" without a diff.
type ModifiedDateCache map[string]int64

// BuildModifiedDates folds per-file modification times into per-section
// times through the path map. Files the map does not know are skipped;
// they will be bound on the next mapping regeneration.
func BuildModifiedDates(stats map[string]int64, pm *pathmap.Map) ModifiedDateCache {
	out := make(ModifiedDateCache)
	for file, ms := range stats {
		mount, ok := pm.MountFor(file)
		if !ok {
			continue
		}
		section := mount
		if i := strings.Index(mount, configtree.PathDelimiter); i >= 0 {
			section = mount[:i]
		}
		out[section] = timestamp.Latest(out[section], ms)
	}
	return out
}

// ChangedSince reports whether the section may have changed since the
// given time. Unknown sections report true so callers fall through to a
// real comparison rather than trusting a stale cache.
func (c ModifiedDateCache) ChangedSince(section string, sinceMs int64) bool {
	ms, ok := c[section]
	if !ok {
		return true
	}
	return ms > sinceMs
}

// Sections returns the cached section names, sorted.
func (c ModifiedDateCache) Sections() []string {
	out := make([]string, 0, len(c))
	for s := range c {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of the cache.
func (c ModifiedDateCache) Clone() ModifiedDateCache {
	out := make(ModifiedDateCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// envelope is the persisted wire form. Tree rides as raw JSON so document
// key order survives the round trip.
type envelope struct {
	Version   int64            `json:"version"`
	UpdatedAt int64            `json:"updated_at"`
	Modified  map[string]int64 `json:"modified,omitempty"`
	Tree      json.RawMessage  `json:"tree"`
}

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	tree := s.Tree
	if tree == nil {
		tree = configtree.NewTree()
	}
	treeData, err := tree.MarshalJSON()
	if err != nil {
		return nil, errors.WrapFatal(err, "snapshot", "encodeSnapshot", "marshal tree")
	}
	data, err := json.Marshal(envelope{
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Modified:  s.Modified,
		Tree:      treeData,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "snapshot", "encodeSnapshot", "marshal record")
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%v: %w", err, errors.ErrDataCorrupted),
			"snapshot", "decodeSnapshot", "unmarshal record")
	}

	tree := configtree.NewTree()
	if len(env.Tree) > 0 {
		if err := tree.UnmarshalJSON(env.Tree); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%v: %w", err, errors.ErrDataCorrupted),
				"snapshot", "decodeSnapshot", "unmarshal tree")
		}
	}

	modified := ModifiedDateCache{}
	for k, v := range env.Modified {
		modified[k] = v
	}
	return &Snapshot{
		Tree:      tree,
		Version:   env.Version,
		UpdatedAt: env.UpdatedAt,
		Modified:  modified,
	}, nil
}
