package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/history"
	"roomchat/pkg/types"
)

func TestJournal_RunsJobsInOrder(t *testing.T) {
	j := newJournal("lobby", history.NewMemoryLog(), discardLogger())
	go j.run()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, j.push(func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	j.close()
	<-j.done

	for i, got := range order {
		assert.Equal(t, i, got)
	}
	assert.Len(t, order, 100)
	assert.False(t, j.push(func(context.Context) {}), "closed journal rejects jobs")
}

func TestJournal_BacklogSeesEarlierAppendsOnly(t *testing.T) {
	req := require.New(t)
	log := history.NewMemoryLog()
	j := newJournal("lobby", log, discardLogger())
	go j.run()
	defer func() {
		j.close()
		<-j.done
	}()

	for i := 0; i < 3; i++ {
		j.append(types.ChatRecord{Name: "a", Message: fmt.Sprintf("m%d", i), Timestamp: int64(i + 1)})
	}
	got := make(chan []string, 1)
	req.True(j.recent(types.BacklogLimit, func(records []string, err error) {
		assert.NoError(t, err)
		got <- records
	}))
	j.append(types.ChatRecord{Name: "a", Message: "after", Timestamp: 10})

	select {
	case records := <-got:
		req.Len(records, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("backlog not delivered")
	}
}

func TestJournal_CloseDrainsPendingAppends(t *testing.T) {
	log := history.NewMemoryLog()
	j := newJournal("lobby", log, discardLogger())

	for i := 0; i < 10; i++ {
		j.append(types.ChatRecord{Name: "a", Message: "m", Timestamp: int64(i + 1)})
	}
	j.close()
	go j.run()
	<-j.done

	records, err := log.Recent(context.Background(), "lobby", 100)
	require.NoError(t, err)
	assert.Len(t, records, 10)
}
