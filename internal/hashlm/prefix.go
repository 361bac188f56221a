package hashlm

import (
	"github.com/cespare/xxhash/v2"
)

type prefixState struct {
	ids   []int
	state uint64
}

func prefixKey(toks []string) uint64 {
	d := xxhash.New()
	for _, t := range toks {
		_, _ = d.WriteString(t)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// prefix returns the history state after consuming the static prompt. With
// cache set the state is memoized by prompt content.
func (m *Model) prefix(toks []string, cache bool) (prefixState, error) {
	if len(toks) == 0 {
		return prefixState{state: m.init}, nil
	}
	var key uint64
	if cache {
		key = prefixKey(toks)
		m.mu.Lock()
		ps, ok := m.prefixes[key]
		m.mu.Unlock()
		if ok {
			m.hits.Add(1)
			return ps, nil
		}
		m.misses.Add(1)
	}
	ids, err := m.ids(toks)
	if err != nil {
		return prefixState{}, err
	}
	ps := prefixState{ids: ids, state: m.advanceAll(m.init, ids)}
	if cache {
		m.mu.Lock()
		m.prefixes[key] = ps
		m.mu.Unlock()
	}
	return ps, nil
}
