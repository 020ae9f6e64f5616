package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testhelpers"
)

func newTestStartup(maxAttempts int) *Startup {
	s := New(testhelpers.Logger(), maxAttempts)
	s.unit = time.Millisecond
	return s
}

func TestStartRespectsDependsOn(t *testing.T) {
	s := newTestStartup(1)
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	stopped := []string{}
	stop := func(name string) func(context.Context) error {
		return func(context.Context) error {
			stopped = append(stopped, name)
			return nil
		}
	}

	s.Add(Dependency{Name: "api", DependsOn: []string{"database", "redis"}, Start: record("api"), Stop: stop("api")})
	s.Add(Dependency{Name: "database", Start: record("database"), Stop: stop("database")})
	s.Add(Dependency{Name: "redis", Start: record("redis")})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"database", "redis", "api"}, order)
	assert.Equal(t, StatusStarted, s.Status("api"))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"api", "database"}, stopped)
	assert.Equal(t, StatusStopped, s.Status("redis"))
}

func TestStartRetriesOnlyFailedDependencies(t *testing.T) {
	s := newTestStartup(3)
	dbStarts, redisStarts := 0, 0
	s.Add(Dependency{Name: "database", Start: func(context.Context) error {
		dbStarts++
		return nil
	}})
	s.Add(Dependency{Name: "redis", Start: func(context.Context) error {
		redisStarts++
		if redisStarts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, dbStarts)
	assert.Equal(t, 3, redisStarts)
}

func TestStartGivesUp(t *testing.T) {
	s := newTestStartup(2)
	boom := errors.New("connection refused")
	s.Add(Dependency{Name: "database", Start: func(context.Context) error { return boom }})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, s.Status("database"))
}

func TestStartDetectsCycles(t *testing.T) {
	s := newTestStartup(1)
	noop := func(context.Context) error { return nil }
	s.Add(Dependency{Name: "a", DependsOn: []string{"b"}, Start: noop})
	s.Add(Dependency{Name: "b", DependsOn: []string{"a"}, Start: noop})

	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}
