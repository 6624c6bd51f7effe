package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivity(t *testing.T) {
	t.Run("labels", func(t *testing.T) {
		a := NewActivity(
			WithLabel("saveEntry", "saving..."),
			WithLabels(map[string]string{"listEntries": "loading..."}),
		)

		assert.Equal(t, "saving...", a.LabelFor("saveEntry"))
		assert.Equal(t, "loading...", a.LabelFor("listEntries"))
		assert.Equal(t, DefaultActivityLabel, a.LabelFor("other"))

		custom := NewActivity(WithDefaultLabel("busy"))
		assert.Equal(t, "busy", custom.LabelFor("other"))
	})

	t.Run("begin and end", func(t *testing.T) {
		a := NewActivity(WithLabel("saveEntry", "saving..."))
		assert.False(t, a.Busy())
		assert.Equal(t, "", a.Label())

		end := a.Begin("saveEntry")
		assert.True(t, a.Busy())
		assert.Equal(t, "saving...", a.Label())
		assert.Equal(t, int64(1), a.InFlight())

		end()
		end()
		assert.False(t, a.Busy())
		assert.Equal(t, int64(0), a.InFlight())
	})

	t.Run("label follows the latest running call", func(t *testing.T) {
		a := NewActivity(WithLabel("save", "saving..."), WithLabel("load", "loading..."))

		endSave := a.Begin("save")
		endLoad := a.Begin("load")
		assert.Equal(t, "loading...", a.Label())

		endLoad()
		assert.True(t, a.Busy())
		assert.Equal(t, "saving...", a.Label())

		endSave()
		assert.Equal(t, ActivityState{}, a.State())
	})

	t.Run("subscribers see every change", func(t *testing.T) {
		a := NewActivity()

		var mu sync.Mutex
		var seen []ActivityState
		unsubscribe := a.Subscribe(func(s ActivityState) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		})

		end := a.Begin("echo")
		end()
		unsubscribe()
		a.Begin("echo")()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []ActivityState{
			{Busy: true, Label: DefaultActivityLabel, InFlight: 1},
			{},
		}, seen)
	})

	t.Run("concurrent calls", func(t *testing.T) {
		a := NewActivity()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.Begin("echo")()
			}()
		}
		wg.Wait()

		assert.False(t, a.Busy())
		assert.Equal(t, "", a.Label())
	})
}
