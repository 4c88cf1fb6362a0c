package model

import "sort"

// SyncStrategyKind selects which folders are synchronized.
type SyncStrategyKind int

const (
	SyncAll SyncStrategyKind = iota
	SyncInclude
	SyncExclude
)

func (k SyncStrategyKind) String() string {
	switch k {
	case SyncInclude:
		return "include"
	case SyncExclude:
		return "exclude"
	default:
		return "all"
	}
}

// SyncFoldersStrategy filters the folders seen by the sync engine. The
// zero value synchronizes every folder.
type SyncFoldersStrategy struct {
	Kind    SyncStrategyKind
	Folders map[string]struct{}
}

// IncludeFolders synchronizes only the named folders.
func IncludeFolders(folders ...string) SyncFoldersStrategy {
	return SyncFoldersStrategy{Kind: SyncInclude, Folders: folderSet(folders)}
}

// ExcludeFolders synchronizes every folder but the named ones.
func ExcludeFolders(folders ...string) SyncFoldersStrategy {
	return SyncFoldersStrategy{Kind: SyncExclude, Folders: folderSet(folders)}
}

// Matches reports whether folder should be synchronized.
func (s SyncFoldersStrategy) Matches(folder string) bool {
	_, listed := s.Folders[folder]
	switch s.Kind {
	case SyncInclude:
		return listed
	case SyncExclude:
		return !listed
	default:
		return true
	}
}

// FolderList returns the folder set sorted.
func (s SyncFoldersStrategy) FolderList() []string {
	out := make([]string, 0, len(s.Folders))
	for f := range s.Folders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func folderSet(folders []string) map[string]struct{} {
	set := make(map[string]struct{}, len(folders))
	for _, f := range folders {
		set[f] = struct{}{}
	}
	return set
}
