package service

import (
	"sync"

	"github.com/google/uuid"
)

// bookingLocks мьютексы по ID бронирования. Запись удаляется, когда её никто не держит и не ждёт
type bookingLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*bookingLock
}

type bookingLock struct {
	mu   sync.Mutex
	refs int
}

func newBookingLocks() *bookingLocks {
	return &bookingLocks{locks: make(map[uuid.UUID]*bookingLock)}
}

// Lock блокирует бронирование id и возвращает функцию разблокировки
func (l *bookingLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &bookingLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *bookingLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
