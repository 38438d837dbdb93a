package scheduler_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/swrcache/scheduler"
)

func ExampleScheduler_Schedule() {
	s := scheduler.New(scheduler.Config{})

	_ = s.Post(func() {
		// Three updates for the same subscriber inside one turn.
		for i := 1; i <= 3; i++ {
			n := i
			_, _ = s.Schedule(scheduler.Normal, "subscriber-a", func(context.Context) {
				fmt.Println("render", n)
			})
		}
		_, _ = s.Schedule(scheduler.Urgent, "input", func(context.Context) {
			fmt.Println("echo keystroke")
		})
	})

	_ = s.RunUntilIdle()
	// Output:
	// echo keystroke
	// render 3
}
