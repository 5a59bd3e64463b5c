package ws

import "sync"

// lanes runs tasks one at a time per key, each key on its own goroutine.
// Tasks of one key keep submission order; keys never wait on each other.
type lanes struct {
	mu      sync.Mutex
	queues  map[string][]func()
	pending sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// do queues task behind the key's earlier tasks.
func (l *lanes) do(key string, task func()) {
	l.pending.Add(1)
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, task)
	l.mu.Unlock()
	if !running {
		go l.run(key)
	}
}

func (l *lanes) run(key string) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		task := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()
		l.exec(task)
	}
}

func (l *lanes) exec(task func()) {
	defer l.pending.Done()
	task()
}

// wait blocks until every queued task has finished.
func (l *lanes) wait() {
	l.pending.Wait()
}
