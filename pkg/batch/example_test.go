package batch_test

import (
	"context"
	"fmt"
	"sort"

	"batchrun/pkg/batch"
)

func ExampleProcess() {
	squares, err := batch.Process[int, int](context.Background(), []int{1, 2, 3, 4}, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	}, 2)
	if err != nil {
		fmt.Println(err)
		return
	}

	sort.Ints(squares)
	fmt.Println(squares)
	// Output: [1 4 9 16]
}
