package ranking

import (
	"math/rand/v2"

	"github.com/podiumapp/podium-server/internal/domain"
)

const (
	maxLevel = 32
	levelP   = 0.25
)

type skipLevel struct {
	next *skipNode
	// span is the number of rank positions this pointer jumps over, so
	// positional queries resolve without walking level zero.
	span int
}

type skipNode struct {
	entry  domain.RankEntry
	levels []skipLevel
}

// skipList keeps entries ordered best-first (total descending, userId
// ascending on ties) with O(log n) insert, remove, and rank lookup.
// Not safe for concurrent use; the engine serializes all access.
type skipList struct {
	head   *skipNode
	level  int
	length int
}

func newSkipList() *skipList {
	return &skipList{
		head:  &skipNode{levels: make([]skipLevel, maxLevel)},
		level: 1,
	}
}

func randomLevel() int {
	lvl := 1
	for lvl < maxLevel && rand.Float64() < levelP {
		lvl++
	}
	return lvl
}

func (l *skipList) insert(e domain.RankEntry) {
	var update [maxLevel]*skipNode
	var rank [maxLevel]int

	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		if i == l.level-1 {
			rank[i] = 0
		} else {
			rank[i] = rank[i+1]
		}
		for x.levels[i].next != nil && x.levels[i].next.entry.Less(e) {
			rank[i] += x.levels[i].span
			x = x.levels[i].next
		}
		update[i] = x
	}

	lvl := randomLevel()
	if lvl > l.level {
		for i := l.level; i < lvl; i++ {
			rank[i] = 0
			update[i] = l.head
			update[i].levels[i].span = l.length
		}
		l.level = lvl
	}

	n := &skipNode{entry: e, levels: make([]skipLevel, lvl)}
	for i := range lvl {
		n.levels[i].next = update[i].levels[i].next
		update[i].levels[i].next = n
		n.levels[i].span = update[i].levels[i].span - (rank[0] - rank[i])
		update[i].levels[i].span = (rank[0] - rank[i]) + 1
	}
	for i := lvl; i < l.level; i++ {
		update[i].levels[i].span++
	}
	l.length++
}

// remove deletes the exact entry. The caller must pass the entry as it was
// inserted, including its total.
func (l *skipList) remove(e domain.RankEntry) bool {
	var update [maxLevel]*skipNode

	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		for x.levels[i].next != nil && x.levels[i].next.entry.Less(e) {
			x = x.levels[i].next
		}
		update[i] = x
	}

	x = x.levels[0].next
	if x == nil || x.entry != e {
		return false
	}

	for i := range l.level {
		if update[i].levels[i].next == x {
			update[i].levels[i].span += x.levels[i].span - 1
			update[i].levels[i].next = x.levels[i].next
		} else {
			update[i].levels[i].span--
		}
	}
	for l.level > 1 && l.head.levels[l.level-1].next == nil {
		l.level--
	}
	l.length--
	return true
}

// rank returns the 1-based position of the exact entry, or 0 if absent.
func (l *skipList) rank(e domain.RankEntry) int {
	x := l.head
	r := 0
	for i := l.level - 1; i >= 0; i-- {
		for x.levels[i].next != nil && !e.Less(x.levels[i].next.entry) {
			r += x.levels[i].span
			x = x.levels[i].next
		}
		if x != l.head && x.entry == e {
			return r
		}
	}
	return 0
}

// slice returns up to count entries starting at the 1-based rank start.
func (l *skipList) slice(start, count int) []domain.RankEntry {
	if start < 1 || count <= 0 || start > l.length {
		return nil
	}

	x := l.head
	traversed := 0
	for i := l.level - 1; i >= 0; i-- {
		for x.levels[i].next != nil && traversed+x.levels[i].span < start {
			traversed += x.levels[i].span
			x = x.levels[i].next
		}
	}

	x = x.levels[0].next
	out := make([]domain.RankEntry, 0, count)
	for x != nil && len(out) < count {
		out = append(out, x.entry)
		x = x.levels[0].next
	}
	return out
}
