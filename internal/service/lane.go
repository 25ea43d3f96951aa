package service

import "sync"

// laneLock 按键互斥锁，同一账户的下单请求和同一持仓的平仓请求串行执行
type laneLock struct {
	mu    sync.Mutex
	lanes map[string]*laneEntry
}

type laneEntry struct {
	mu   sync.Mutex
	refs int
}

func newLaneLock() *laneLock {
	return &laneLock{lanes: make(map[string]*laneEntry)}
}

// Lock 锁住key对应的通道，返回解锁函数
func (l *laneLock) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.lanes[key]
	if !ok {
		entry = &laneEntry{}
		l.lanes[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.lanes, key)
		}
		l.mu.Unlock()
	}
}
