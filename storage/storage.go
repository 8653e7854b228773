package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
)

// Storage keeps service counters. Room state itself never leaves process
// memory.
type Storage interface {
	IncrVisits() (int64, error)
	GetVisitsByDate(date time.Time) (int64, error)
	IncrRoomsCreated() (int64, error)
	RoomsCreated() (int64, error)
}

const roomsCreatedKey = "rooms:created"

func visitsKey(date time.Time) string {
	return "visits:" + date.Format("02.01.06")
}

type storage struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedis returns a Storage backed by Redis.
func NewRedis(rdb *redis.Client) Storage {
	return &storage{rdb: rdb, now: time.Now}
}

func (s *storage) IncrVisits() (int64, error) {
	return s.rdb.Incr(visitsKey(s.now())).Result()
}

func (s *storage) GetVisitsByDate(date time.Time) (int64, error) {
	n, err := s.rdb.Get(visitsKey(date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *storage) IncrRoomsCreated() (int64, error) {
	return s.rdb.Incr(roomsCreatedKey).Result()
}

func (s *storage) RoomsCreated() (int64, error) {
	n, err := s.rdb.Get(roomsCreatedKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

type memory struct {
	sync.Mutex
	counters map[string]int64
	now      func() time.Time
}

// NewMemory returns a process-local Storage, used when no Redis is configured.
func NewMemory() Storage {
	return &memory{counters: make(map[string]int64), now: time.Now}
}

func (m *memory) incr(key string) int64 {
	m.Lock()
	defer m.Unlock()
	m.counters[key]++
	return m.counters[key]
}

func (m *memory) get(key string) int64 {
	m.Lock()
	defer m.Unlock()
	return m.counters[key]
}

func (m *memory) IncrVisits() (int64, error) {
	return m.incr(visitsKey(m.now())), nil
}

func (m *memory) GetVisitsByDate(date time.Time) (int64, error) {
	return m.get(visitsKey(date)), nil
}

func (m *memory) IncrRoomsCreated() (int64, error) {
	return m.incr(roomsCreatedKey), nil
}

func (m *memory) RoomsCreated() (int64, error) {
	return m.get(roomsCreatedKey), nil
}
