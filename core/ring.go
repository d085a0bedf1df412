package core

// Thread-group rings are circular doubly linked lists threaded through the
// thread table by slot index. A thread outside any ring links to itself.

func ringInit(threads *slab[Thread], idx int32) {
	threads.at(idx).link = ringLink{next: idx, prev: idx}
}

// ringInsertAfter splices the singleton idx in right after anchor.
func ringInsertAfter(threads *slab[Thread], idx, anchor int32) {
	n := threads.at(idx)
	a := threads.at(anchor)
	next := a.link.next

	n.link.prev = anchor
	n.link.next = next
	threads.at(next).link.prev = idx
	a.link.next = idx
}

// ringUnlink removes idx from its ring and leaves it as a singleton.
func ringUnlink(threads *slab[Thread], idx int32) {
	t := threads.at(idx)
	threads.at(t.link.prev).link.next = t.link.next
	threads.at(t.link.next).link.prev = t.link.prev
	t.link = ringLink{next: idx, prev: idx}
}

// ringWalk visits every member starting at anchor until fn returns false.
func ringWalk(threads *slab[Thread], anchor int32, fn func(idx int32) bool) {
	idx := anchor
	for {
		if !fn(idx) {
			return
		}
		idx = threads.at(idx).link.next
		if idx == anchor {
			return
		}
	}
}

// ringLinked reports whether idx shares its ring with another thread.
func ringLinked(threads *slab[Thread], idx int32) bool {
	return threads.at(idx).link.next != idx
}

func ringLen(threads *slab[Thread], anchor int32) int {
	n := 0
	ringWalk(threads, anchor, func(int32) bool {
		n++
		return true
	})
	return n
}
