package design

import (
	"strings"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// MergeLists merges a child list over a parent list.
//
// The result holds every child entry not prefixed with "!", followed by the
// parent entries the child neither repeats nor removes with a "!" entry.
// Entries appear once.
func MergeLists(child, parent []string) []string {
	out := make([]string, 0, len(child)+len(parent))
	seen := make(map[string]struct{}, len(child)+len(parent))
	removed := make(map[string]struct{})

	for _, c := range child {
		if strings.HasPrefix(c, Tombstone) {
			removed[strings.TrimPrefix(c, Tombstone)] = struct{}{}
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	for _, p := range parent {
		if _, ok := removed[p]; ok {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	return out
}

// MergeDicts merges a child map over a parent map. A child key "!k" removes
// the parent's k; other child keys win on collision.
func MergeDicts(child, parent map[string]string) map[string]string {
	out := make(map[string]string, len(child)+len(parent))

	for k, v := range parent {
		if _, ok := child[Tombstone+k]; ok {
			continue
		}
		out[k] = v
	}
	for k, v := range child {
		if strings.HasPrefix(k, Tombstone) {
			continue
		}
		out[k] = v
	}

	return out
}

// mergeable is an entry of a structured list keyed by name.
type mergeable[E any] interface {
	key() string
	clone() E
}

// mergeNamed merges structured child entries over parent entries.
//
// A nil child yields the parent and a nil parent yields the child. Otherwise
// a child "!name" entry drops the parent entry, a same-named child entry is
// combined with merge, and unmatched parent and child entries are carried
// forward. Every entry in a merged result is tagged Compiled.
func mergeNamed[E mergeable[E]](child, parent []E, retag func(E) E, merge func(c, p E) E) []E {
	if child == nil {
		return cloneAll(parent)
	}
	if parent == nil {
		return cloneAll(child)
	}

	out := make([]E, 0, len(child)+len(parent))
	parentNames := make(map[string]struct{}, len(parent))

	for _, p := range parent {
		name := p.key()
		parentNames[name] = struct{}{}

		carry := true
		for _, c := range child {
			if c.key() == Tombstone+name {
				carry = false
				break
			}
			if c.key() == name {
				out = append(out, merge(c, p))
				carry = false
				break
			}
		}
		if carry {
			out = append(out, retag(p.clone()))
		}
	}

	for _, c := range child {
		if _, ok := parentNames[c.key()]; ok {
			continue
		}
		if strings.HasPrefix(c.key(), Tombstone) {
			continue
		}
		out = append(out, retag(c.clone()))
	}

	return out
}

func cloneAll[E mergeable[E]](in []E) []E {
	if in == nil {
		return nil
	}
	out := make([]E, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

// MergeInterfaces merges interfaces by device name.
func MergeInterfaces(child, parent []Interface) []Interface {
	return mergeNamed(child, parent,
		func(i Interface) Interface { i.Source = orchestrator.SourceCompiled; return i },
		func(c, p Interface) Interface {
			return Interface{
				DeviceName:     c.DeviceName,
				Source:         orchestrator.SourceCompiled,
				NetworkLink:    Resolve(c.NetworkLink, p.NetworkLink),
				HardwareSlaves: MergeLists(c.HardwareSlaves, p.HardwareSlaves),
				Networks:       MergeLists(c.Networks, p.Networks),
				SRIOV:          c.SRIOV,
				VFCount:        c.VFCount,
				TrustedMode:    c.TrustedMode,
			}
		})
}

// MergeStorageDevices merges physical devices by name.
func MergeStorageDevices(child, parent []StorageDevice) []StorageDevice {
	return mergeNamed(child, parent,
		func(d StorageDevice) StorageDevice { d.Source = orchestrator.SourceCompiled; return d },
		func(c, p StorageDevice) StorageDevice {
			return StorageDevice{
				Name:        c.Name,
				Source:      orchestrator.SourceCompiled,
				VolumeGroup: Resolve(c.VolumeGroup, p.VolumeGroup),
				Labels:      MergeDicts(c.Labels, p.Labels),
				Partitions:  MergePartitions(c.Partitions, p.Partitions),
			}
		})
}

// MergePartitions merges partitions by name.
func MergePartitions(child, parent []Partition) []Partition {
	return mergeNamed(child, parent,
		func(pt Partition) Partition { pt.Source = orchestrator.SourceCompiled; return pt },
		func(c, p Partition) Partition {
			return Partition{
				Name:         c.Name,
				Source:       orchestrator.SourceCompiled,
				Bootable:     Resolve(c.Bootable, p.Bootable),
				VolumeGroup:  Resolve(c.VolumeGroup, p.VolumeGroup),
				PartUUID:     Resolve(c.PartUUID, p.PartUUID),
				Size:         Resolve(c.Size, p.Size),
				Mountpoint:   Resolve(c.Mountpoint, p.Mountpoint),
				FSType:       Resolve(c.FSType, p.FSType),
				MountOptions: Resolve(c.MountOptions, p.MountOptions),
				FSUUID:       Resolve(c.FSUUID, p.FSUUID),
				FSLabel:      Resolve(c.FSLabel, p.FSLabel),
			}
		})
}

// MergeVolumeGroups merges volume groups by name.
func MergeVolumeGroups(child, parent []VolumeGroup) []VolumeGroup {
	return mergeNamed(child, parent,
		func(vg VolumeGroup) VolumeGroup { vg.Source = orchestrator.SourceCompiled; return vg },
		func(c, p VolumeGroup) VolumeGroup {
			return VolumeGroup{
				Name:           c.Name,
				Source:         orchestrator.SourceCompiled,
				VGUUID:         Resolve(c.VGUUID, p.VGUUID),
				LogicalVolumes: MergeLogicalVolumes(c.LogicalVolumes, p.LogicalVolumes),
			}
		})
}

// MergeLogicalVolumes merges logical volumes by name.
func MergeLogicalVolumes(child, parent []LogicalVolume) []LogicalVolume {
	return mergeNamed(child, parent,
		func(lv LogicalVolume) LogicalVolume { lv.Source = orchestrator.SourceCompiled; return lv },
		func(c, p LogicalVolume) LogicalVolume {
			return LogicalVolume{
				Name:         c.Name,
				Source:       orchestrator.SourceCompiled,
				LVUUID:       Resolve(c.LVUUID, p.LVUUID),
				Size:         Resolve(c.Size, p.Size),
				Mountpoint:   Resolve(c.Mountpoint, p.Mountpoint),
				FSType:       Resolve(c.FSType, p.FSType),
				MountOptions: Resolve(c.MountOptions, p.MountOptions),
				FSUUID:       Resolve(c.FSUUID, p.FSUUID),
				FSLabel:      Resolve(c.FSLabel, p.FSLabel),
			}
		})
}

func (i Interface) key() string {
	return i.DeviceName
}

func (i Interface) clone() Interface {
	i.HardwareSlaves = cloneStrings(i.HardwareSlaves)
	i.Networks = cloneStrings(i.Networks)
	if i.SlaveSelectors != nil {
		i.SlaveSelectors = append([]DeviceSelector{}, i.SlaveSelectors...)
	}
	return i
}

func (d StorageDevice) key() string {
	return d.Name
}

func (d StorageDevice) clone() StorageDevice {
	d.Labels = cloneMap(d.Labels)
	d.Partitions = cloneAll(d.Partitions)
	if d.Selector != nil {
		s := *d.Selector
		d.Selector = &s
	}
	return d
}

func (p Partition) key() string {
	return p.Name
}

func (p Partition) clone() Partition {
	return p
}

func (vg VolumeGroup) key() string {
	return vg.Name
}

func (vg VolumeGroup) clone() VolumeGroup {
	vg.LogicalVolumes = cloneAll(vg.LogicalVolumes)
	return vg
}

func (lv LogicalVolume) key() string {
	return lv.Name
}

func (lv LogicalVolume) clone() LogicalVolume {
	return lv
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
