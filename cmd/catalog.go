package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/metagis/pybridge/schema"
)

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func catalogAction(ctx context.Context, cmd *cli.Command) error {
	reg, err := schema.Load()
	if err != nil {
		return err
	}
	bold, dim, reset := "\033[1m", "\033[2m", "\033[0m"
	if !useColor() {
		bold, dim, reset = "", "", ""
	}

	fmt.Printf("%sInterfaces%s\n", bold, reset)
	for _, it := range reg.Interfaces() {
		parents := ""
		if len(it.Extends) > 0 {
			names := make([]string, len(it.Extends))
			for i, p := range it.Extends {
				names[i] = p.Name
			}
			parents = " extends " + strings.Join(names, ", ")
		}
		fmt.Printf("  %-26s %-24s %2d operations%s%s%s\n",
			it.UML, it.Module, len(it.Operations), dim, parents, reset)
	}

	fmt.Printf("\n%sVocabularies%s\n", bold, reset)
	for _, v := range reg.Vocabularies() {
		kind := "enumeration"
		if v.Open {
			kind = "code list"
		}
		fmt.Printf("  %-26s %-12s %2d values\n", v.UML, kind, len(v.Values))
	}

	if ex := reg.Excluded(); len(ex) > 0 {
		fmt.Printf("\n%sExcluded%s %s\n", bold, reset, strings.Join(ex, ", "))
	}
	return nil
}

func catalogCheckAction(ctx context.Context, cmd *cli.Command) error {
	reg, err := schema.Load()
	if err != nil {
		return err
	}
	var problems []string

	// The subtype list ships as a separate resource; it must not drift
	// from the extends graph.
	parents := make(map[string]bool)
	for _, it := range reg.Interfaces() {
		for _, p := range it.Extends {
			parents[p.Name] = true
		}
	}
	for _, it := range reg.Interfaces() {
		if parents[it.Name] != reg.HasKnownSubtypes(it) {
			problems = append(problems,
				fmt.Sprintf("%s: subtype flag out of step with the extends graph", it.UML))
		}
	}

	// Two operations must never collapse to one foreign attribute.
	for _, it := range reg.Interfaces() {
		seen := make(map[string]string)
		for _, op := range it.Operations {
			fn := op.ForeignName()
			if prev, dup := seen[fn]; dup {
				problems = append(problems,
					fmt.Sprintf("%s: %s and %s share the foreign name %q", it.UML, prev, op.Name, fn))
			}
			seen[fn] = op.Name
		}
	}

	for _, v := range reg.Vocabularies() {
		if len(v.Values) == 0 {
			problems = append(problems, fmt.Sprintf("%s: vocabulary declares no values", v.UML))
		}
	}

	green, red, reset := "\033[32m", "\033[31m", "\033[0m"
	if !useColor() {
		green, red, reset = "", "", ""
	}
	if len(problems) == 0 {
		fmt.Printf("%sok%s %d interfaces, %d vocabularies\n",
			green, reset, len(reg.Interfaces()), len(reg.Vocabularies()))
		return nil
	}
	for _, p := range problems {
		fmt.Printf("%sproblem%s %s\n", red, reset, p)
	}
	return fmt.Errorf("%d problems in the catalog", len(problems))
}
