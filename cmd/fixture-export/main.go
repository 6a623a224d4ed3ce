package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/simuniverse-cert/internal/replay"
)

// #region main

// fixture-export replays a fixture's runs and writes the results back as its
// expected_results. Use it after an intended change to thresholds, omega
// bands or tier rules, then review the diff.
func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	outPath := flag.String("out", "", "output fixture JSON path (defaults to --fixture)")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --fixture path/to/fixture.json [--out path/to/fixture.json]")
		os.Exit(2)
	}
	dest := *outPath
	if dest == "" {
		dest = *fixturePath
	}

	if err := run(*fixturePath, dest); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(fixturePath, outPath string) error {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		return err
	}
	results, err := f.Execute()
	if err != nil {
		return err
	}
	drift := f.Compare(results)

	f.ExpectedResults = replay.Record(results)
	if err := f.Save(outPath); err != nil {
		return err
	}

	fmt.Printf("Exported %d runs to %s\n", len(results), outPath)
	if len(drift) > 0 {
		fmt.Printf("%d expectations changed:\n", len(drift))
		for _, m := range drift {
			fmt.Printf("  %s\n", m)
		}
	}
	return nil
}

// #endregion export
