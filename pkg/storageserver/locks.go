package storageserver

import "sort"

// lockSet tracks the exclusive sentence locks on one file. Both maps
// are kept in step: at most one lock per sentence, at most one lock per
// user. Callers hold the store mutex.
type lockSet struct {
	bySentence map[int]string
	byUser     map[string]int
}

func newLockSet() *lockSet {
	return &lockSet{
		bySentence: make(map[int]string),
		byUser:     make(map[string]int),
	}
}

// sentenceOf returns the sentence the user has locked, if any.
func (l *lockSet) sentenceOf(user string) (int, bool) {
	idx, ok := l.byUser[user]
	return idx, ok
}

// heldByOther reports whether a different user holds the sentence.
func (l *lockSet) heldByOther(idx int, user string) bool {
	owner, ok := l.bySentence[idx]
	return ok && owner != user
}

func (l *lockSet) add(user string, idx int) {
	l.bySentence[idx] = user
	l.byUser[user] = idx
}

func (l *lockSet) remove(user string) {
	if idx, ok := l.byUser[user]; ok {
		delete(l.bySentence, idx)
		delete(l.byUser, user)
	}
}

// shiftAfter renumbers every lock above idx by one. Called when an edit
// splits a sentence and inserts the tail right after it. Applied
// highest-first so a shifted lock never lands on a slot that has not
// moved yet.
func (l *lockSet) shiftAfter(idx int) {
	var shift []int
	for held := range l.bySentence {
		if held > idx {
			shift = append(shift, held)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(shift)))
	for _, held := range shift {
		user := l.bySentence[held]
		delete(l.bySentence, held)
		l.bySentence[held+1] = user
		l.byUser[user] = held + 1
	}
}

func (l *lockSet) empty() bool {
	return len(l.byUser) == 0
}

func (l *lockSet) size() int {
	return len(l.byUser)
}
