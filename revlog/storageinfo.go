package revlog

// StorageInfo summarizes a revlog's on-disk footprint (SPEC_FULL.md
// supplement 6, "storage_info reporting").
type StorageInfo struct {
	Radix          string
	Revisions      int
	Format         int
	GeneralDelta   bool
	Inline         bool
	IndexBytes     int64
	DataBytes      int64
	ExclusiveFiles []string
}

// StorageInfo reports the revlog's current file layout and sizes.
func (rl *Revlog) StorageInfo() (StorageInfo, error) {
	info := StorageInfo{
		Radix:        rl.radix,
		Revisions:    rl.Len(),
		Format:       int(rl.format),
		GeneralDelta: rl.IsGeneralDelta(),
		Inline:       rl.inline,
	}

	if sz, err := rl.statOrZero(rl.indexPath); err == nil {
		info.IndexBytes = sz
	} else {
		return info, err
	}
	info.ExclusiveFiles = append(info.ExclusiveFiles, rl.indexPath)

	if rl.dataPath != "" {
		if sz, err := rl.statOrZero(rl.dataPath); err == nil {
			info.DataBytes = sz
		} else {
			return info, err
		}
		info.ExclusiveFiles = append(info.ExclusiveFiles, rl.dataPath)
	}

	if rl.docket != nil {
		info.ExclusiveFiles = append(info.ExclusiveFiles, rl.radix+".n")
	}

	if rl.nodemapLoaded && rl.fs.Exists(rl.nodemapPath) {
		info.ExclusiveFiles = append(info.ExclusiveFiles, rl.nodemapPath)
	}

	return info, nil
}
