// Package backend records which protocols the running build supports.
package backend

import (
	"sort"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// Registry maps a protocol kind to its availability. Kinds absent from
// the map are unavailable.
type Registry map[model.ProtocolKind]bool

// Default returns the availability compiled into this build. IMAP and
// notmuch can be left out with the noimap and nonotmuch build tags.
func Default() Registry {
	return Registry{
		model.KindImap:     imapEnabled,
		model.KindSmtp:     true,
		model.KindMaildir:  true,
		model.KindNotmuch:  notmuchEnabled,
		model.KindSendmail: true,
	}
}

// All returns a registry with every protocol available.
func All() Registry {
	r := Registry{}
	for _, k := range model.ProtocolKinds {
		r[k] = true
	}
	return r
}

// Available reports whether kind can be used.
func (r Registry) Available(kind model.ProtocolKind) bool {
	return r[kind]
}

// Without returns a copy of r with the given kinds disabled.
func (r Registry) Without(kinds ...model.ProtocolKind) Registry {
	out := make(Registry, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, k := range kinds {
		out[k] = false
	}
	return out
}

// Enabled lists the available kinds, sorted.
func (r Registry) Enabled() []model.ProtocolKind {
	var kinds []model.ProtocolKind
	for k, ok := range r {
		if ok {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
