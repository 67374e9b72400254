package cli

import (
	"flag"
	"fmt"

	"challenge-runner/internal/version"
)

func runVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(struct {
			Version string `json:"version"`
		}{Version: version.Value})
	}
	fmt.Println("challenge-runner " + version.Value)
	return nil
}
