package repository

import (
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Пространства имён advisory-блокировок
const (
	LockNamespaceDay   int32 = 1
	LockNamespaceEmail int32 = 2
)

// LockKey ключ транзакционной advisory-блокировки pg_advisory_xact_lock(namespace, key)
type LockKey struct {
	Namespace int32
	Key       int32
}

// DayLock блокировка календарного дня (ключ yyyymmdd в зоне day)
func DayLock(day time.Time) LockKey {
	y, m, d := day.Date()
	return LockKey{Namespace: LockNamespaceDay, Key: int32(y*10000 + int(m)*100 + d)}
}

// DayLocks блокировки всех дней, которые задевает [start, end) в зоне loc
func DayLocks(start, end time.Time, loc *time.Location) []LockKey {
	var locks []LockKey
	day := start.In(loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	for day.Before(end) {
		locks = append(locks, DayLock(day))
		day = day.AddDate(0, 0, 1)
	}
	return locks
}

// EmailLock блокировка по хэшу email, сериализует проверки частоты одного клиента
func EmailLock(email string) LockKey {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return LockKey{Namespace: LockNamespaceEmail, Key: int32(h.Sum32())}
}

// SortLocks убирает дубликаты и упорядочивает ключи, чтобы транзакции брали блокировки в одном порядке
func SortLocks(locks []LockKey) []LockKey {
	seen := make(map[LockKey]struct{}, len(locks))
	out := make([]LockKey, 0, len(locks))
	for _, l := range locks {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Key < out[j].Key
	})
	return out
}
