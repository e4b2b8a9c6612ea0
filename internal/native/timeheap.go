package native

import (
	"container/heap"
	"time"
)

// timerHeap 是按 deadline 排序的最小堆，deadline 相同时按入堆顺序。
type timerHeap []*Event

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].timerSeq < h[j].timerSeq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timerHeap) Push(x any) {
	ev := x.(*Event)
	ev.heapIdx = len(*h)
	*h = append(*h, ev)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIdx = -1
	*h = old[:n-1]
	return ev
}

// schedule 设置 ev 的 deadline 并放入（或调整）堆
func (b *Base) schedule(ev *Event, timeout time.Duration, now time.Time) {
	b.timerSeq++
	ev.timerSeq = b.timerSeq
	ev.deadline = now.Add(timeout)
	if ev.heapIdx >= 0 {
		heap.Fix(&b.timers, ev.heapIdx)
	} else {
		heap.Push(&b.timers, ev)
	}
	b.recount(ev)
}

func (b *Base) unschedule(ev *Event) {
	if ev.heapIdx >= 0 {
		heap.Remove(&b.timers, ev.heapIdx)
		b.recount(ev)
	}
}

// nextTimeout 返回距最近 deadline 的时长，没有定时器时返回 -1
func (b *Base) nextTimeout(now time.Time) time.Duration {
	if len(b.timers) == 0 {
		return -1
	}
	d := b.timers[0].deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// processTimers 激活所有到期的定时器；持久事件在全部弹出后重新入堆，
// 避免零超时的持久事件在同一轮里无限循环。
func (b *Base) processTimers(now time.Time) {
	var again []*Event
	for len(b.timers) > 0 {
		ev := b.timers[0]
		if ev.deadline.After(now) {
			break
		}
		heap.Pop(&b.timers)
		b.recount(ev)
		if ev.what&Persist != 0 {
			again = append(again, ev)
		}
		b.activate(ev, Timeout)
	}
	for _, ev := range again {
		b.schedule(ev, ev.timeout, now)
	}
}
