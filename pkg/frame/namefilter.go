package frame

import (
	"strings"

	"github.com/derekparker/trie"
)

// nameList holds one whitelist or blacklist: exact names in a trie,
// entries with a trailing '*' as prefix rules.
type nameList struct {
	exact    *trie.Trie
	prefixes []string
	n        int
}

func newNameList(entries []string) *nameList {
	l := &nameList{exact: trie.New(), n: len(entries)}
	for _, e := range entries {
		if strings.HasSuffix(e, "*") {
			l.prefixes = append(l.prefixes, strings.TrimSuffix(e, "*"))
			continue
		}
		l.exact.Add(e, nil)
	}
	return l
}

func (l *nameList) empty() bool { return l.n == 0 }

func (l *nameList) matches(name string) bool {
	if _, ok := l.exact.Find(name); ok {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// nameFilter decides whether a function may be patched: a non-empty
// whitelist admits only its members, and the blacklist rejects its
// members in any case.
type nameFilter struct {
	whitelist *nameList
	blacklist *nameList
}

func newNameFilter(whitelist, blacklist []string) *nameFilter {
	return &nameFilter{
		whitelist: newNameList(whitelist),
		blacklist: newNameList(blacklist),
	}
}

func (f *nameFilter) allowed(name string) bool {
	if !f.whitelist.empty() && !f.whitelist.matches(name) {
		return false
	}
	return !f.blacklist.matches(name)
}
