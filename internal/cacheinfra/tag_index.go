package cacheinfra

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

type set = *xsync.MapOf[string, struct{}]

func newSet() set {
	return xsync.NewMapOf[string, struct{}]()
}

// tagIndex keeps tag -> keys and key -> tags memberships. Both directions
// are needed so deleting a key cleans every tag that references it.
type tagIndex struct {
	byTag *xsync.MapOf[string, set]
	byKey *xsync.MapOf[string, set]
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: xsync.NewMapOf[string, set](),
		byKey: xsync.NewMapOf[string, set](),
	}
}

func (i *tagIndex) add(key string, tags ...string) {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		members, _ := i.byTag.LoadOrCompute(tag, newSet)
		members.Store(key, struct{}{})

		owners, _ := i.byKey.LoadOrCompute(key, newSet)
		owners.Store(tag, struct{}{})
	}
}

// collect returns the sorted union of keys indexed under tags.
func (i *tagIndex) collect(tags ...string) []string {
	union := make(map[string]struct{})
	for _, tag := range tags {
		members, ok := i.byTag.Load(tag)
		if !ok {
			continue
		}
		members.Range(func(key string, _ struct{}) bool {
			union[key] = struct{}{}
			return true
		})
	}

	keys := make([]string, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// forget removes key from every tag it was indexed under.
func (i *tagIndex) forget(key string) {
	owners, ok := i.byKey.LoadAndDelete(key)
	if !ok {
		return
	}
	owners.Range(func(tag string, _ struct{}) bool {
		if members, ok := i.byTag.Load(tag); ok {
			members.Delete(key)
		}
		return true
	})
}

func (i *tagIndex) tagsOf(key string) []string {
	owners, ok := i.byKey.Load(key)
	if !ok {
		return nil
	}
	var tags []string
	owners.Range(func(tag string, _ struct{}) bool {
		tags = append(tags, tag)
		return true
	})
	sort.Strings(tags)
	return tags
}
