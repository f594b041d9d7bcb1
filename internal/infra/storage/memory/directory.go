package memory

import (
	"context"
	"strings"
	"sync"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
)

// Directory is an identity directory backed by a fixed profile set.
type Directory struct {
	mu       sync.RWMutex
	profiles []identity.Profile
	calls    int
}

func NewDirectory(profiles ...identity.Profile) *Directory {
	d := &Directory{}
	d.Put(profiles...)
	return d
}

// Put adds or replaces profiles.
func (d *Directory) Put(profiles ...identity.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range profiles {
		p.ID = domainchat.NormalizeID(p.ID)
		replaced := false
		for i := range d.profiles {
			if domainchat.Equal(d.profiles[i].Ref(), p.Ref()) {
				d.profiles[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			d.profiles = append(d.profiles, p)
		}
	}
}

func (d *Directory) Hydrate(ctx context.Context, refs []domainchat.MemberRef) ([]identity.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return identity.NewIndex(d.profiles).Resolve(refs), nil
}

func (d *Directory) SearchByName(ctx context.Context, fragment string) ([]identity.Profile, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []identity.Profile{}
	if fragment == "" {
		return out, nil
	}
	for _, p := range d.profiles {
		if strings.Contains(strings.ToLower(p.Name), fragment) {
			out = append(out, p)
		}
	}
	return out, nil
}

// HydrateCalls reports how many Hydrate calls were served.
func (d *Directory) HydrateCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls
}

var _ identity.Directory = (*Directory)(nil)
