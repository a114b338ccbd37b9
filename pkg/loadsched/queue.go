package loadsched

// classQueue is the FIFO of not-yet-admitted resources of one priority class.
type classQueue struct {
	items []*Resource
}

func (q *classQueue) Len() int {
	return len(q.items)
}

func (q *classQueue) push(r *Resource) {
	q.items = append(q.items, r)
}

// pop removes and returns the head. It must not be called on an empty queue.
func (q *classQueue) pop() *Resource {
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

func (q *classQueue) ids() []string {
	ids := make([]string, len(q.items))
	for i, r := range q.items {
		ids[i] = r.ID
	}
	return ids
}
