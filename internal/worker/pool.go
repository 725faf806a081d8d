package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RunPool starts n workers built by newWorker and blocks until ctx is
// cancelled and every worker has stopped.
func RunPool(ctx context.Context, n int, newWorker func(id string) *Worker) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := newWorker(fmt.Sprintf("proc-%d-%s", i, uuid.NewString()[:8]))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
