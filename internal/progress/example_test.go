package progress_test

import (
	"context"
	"fmt"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

func loadTargets(ctx context.Context, names []string) error {
	s, err := progress.New(ctx, progress.WithSteps(progress.Count(len(names))))
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Step(progress.Describe("target %s", name)); err != nil {
			return err
		}
	}
	return nil
}

// ExampleNew shows a subroutine reporting into its caller's range.
func ExampleNew() {
	show := func(fraction float64, description string, args ...any) error {
		fmt.Printf("%.0f%% %s\n", fraction*100, fmt.Sprintf(description, args...))
		return nil
	}
	tr := progress.NewTracker(progress.WithHost(show))
	ctx := progress.WithTracker(context.Background(), tr)

	root, _ := progress.New(ctx)
	_ = root.ReportRange(0, 0.5, progress.Describe("loading targets"))
	_ = loadTargets(ctx, []string{"age", "gender"})
	_ = root.Report(1, progress.Describe("done"))
	// Output:
	// 0% loading targets
	// 25% target age
	// 50% target gender
	// 100% done
}

// ExampleWeighted shows steps of uneven size.
func ExampleWeighted() {
	tr := progress.NewTracker()
	root, _ := tr.New(progress.WithSteps(progress.Weighted(7, 3, 6, 6)))
	for i := 0; i < 4; i++ {
		_ = root.Step(progress.Keep())
		fmt.Printf("%.4f\n", root.Fraction())
	}
	// Output:
	// 0.3182
	// 0.4545
	// 0.7273
	// 1.0000
}
