package vecindex

// minHeap orders candidates closest-first; it drives the search frontier.
type minHeap []candidate

func (h *minHeap) Len() int { return len(*h) }

func (h *minHeap) push(c candidate) {
	*h = append(*h, c)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[parent].dist <= (*h)[i].dist {
			break
		}
		(*h)[parent], (*h)[i] = (*h)[i], (*h)[parent]
		i = parent
	}
}

func (h *minHeap) pop() candidate {
	top := (*h)[0]
	last := len(*h) - 1
	(*h)[0] = (*h)[last]
	*h = (*h)[:last]
	h.siftDown(0, func(a, b float32) bool { return a < b })
	return top
}

func (h *minHeap) siftDown(i int, less func(a, b float32) bool) {
	n := len(*h)
	for {
		smallest := i
		if l := 2*i + 1; l < n && less((*h)[l].dist, (*h)[smallest].dist) {
			smallest = l
		}
		if r := 2*i + 2; r < n && less((*h)[r].dist, (*h)[smallest].dist) {
			smallest = r
		}
		if smallest == i {
			return
		}
		(*h)[i], (*h)[smallest] = (*h)[smallest], (*h)[i]
		i = smallest
	}
}

// maxHeap orders candidates farthest-first; it bounds the result set so the
// worst kept candidate is always at the top.
type maxHeap []candidate

func (h *maxHeap) Len() int { return len(*h) }

func (h *maxHeap) peek() candidate { return (*h)[0] }

func (h *maxHeap) push(c candidate) {
	*h = append(*h, c)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[parent].dist >= (*h)[i].dist {
			break
		}
		(*h)[parent], (*h)[i] = (*h)[i], (*h)[parent]
		i = parent
	}
}

func (h *maxHeap) pop() candidate {
	top := (*h)[0]
	last := len(*h) - 1
	(*h)[0] = (*h)[last]
	*h = (*h)[:last]
	n := len(*h)
	i := 0
	for {
		largest := i
		if l := 2*i + 1; l < n && (*h)[l].dist > (*h)[largest].dist {
			largest = l
		}
		if r := 2*i + 2; r < n && (*h)[r].dist > (*h)[largest].dist {
			largest = r
		}
		if largest == i {
			return top
		}
		(*h)[i], (*h)[largest] = (*h)[largest], (*h)[i]
		i = largest
	}
}
