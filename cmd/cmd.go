package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/metagis/pybridge/bridge"
	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/schema"
)

// Execute runs the pybridge CLI with the given version string.
func Execute(version string) {
	cmd := &cli.Command{
		Name:                   "pybridge",
		Usage:                  "Drive Python metadata objects through the type catalog",
		Version:                version,
		UseShortOptionHandling: true,
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Show interpreter and catalog information",
				Flags:  interpreterFlags(),
				Action: infoAction,
			},
			{
				Name:   "catalog",
				Usage:  "List the catalog interfaces and vocabularies",
				Action: catalogAction,
				Commands: []*cli.Command{
					{
						Name:   "check",
						Usage:  "Verify the catalog metadata is consistent",
						Action: catalogCheckAction,
					},
				},
			},
			{
				Name:      "get",
				Usage:     "Import a module and read a chain of properties",
				ArgsUsage: "<module> <property...>",
				Flags: append(interpreterFlags(),
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Catalog type to read the first property as",
					},
				),
				Action: getAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func interpreterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "library",
			Aliases: []string{"l"},
			Usage:   "Path to the interpreter library (python.wasm)",
		},
		&cli.StringFlag{
			Name:  "root",
			Usage: "Directory mounted as the interpreter filesystem root",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log interpreter activity",
		},
	}
}

func startEnvironment(cmd *cli.Command) (*bridge.Environment, error) {
	cfg := cpy.Config{
		Library: cmd.String("library"),
		Root:    cmd.String("root"),
	}
	cfg.SetOption(cpy.Isolated, true)
	cfg.SetOption(cpy.UTF8Mode, true)
	cfg.SetOption(cpy.WriteBytecode, false)

	log := zap.NewNop()
	if cmd.Bool("verbose") {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return bridge.Start(cfg, bridge.WithLogger(log))
}

func infoAction(ctx context.Context, cmd *cli.Command) error {
	env, err := startEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	v, err := env.Version()
	if err != nil {
		return err
	}
	reg := env.Registry()
	fmt.Printf("Python   %s\n", v)
	fmt.Printf("Catalog  %d interfaces, %d vocabularies, prefix %q\n",
		len(reg.Interfaces()), len(reg.Vocabularies()), reg.Prefix())
	return nil
}

func getAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 2 {
		return fmt.Errorf("usage: pybridge get [-t TYPE] <module> <property...>")
	}
	env, err := startEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	obj, err := env.Import(cmd.Args().First())
	if err != nil {
		return err
	}
	value, err := readChain(env, obj, cmd.String("type"), cmd.Args().Tail())
	if err != nil {
		return err
	}
	return printValue(os.Stdout, value)
}

// readChain walks property names starting from a module object. When a
// catalog type is named, the first property is read as that type so the
// rest of the chain dispatches through its declared operations.
func readChain(env *bridge.Environment, obj *bridge.Instance, typeName string, names []string) (any, error) {
	var value any = obj
	for i, name := range names {
		inst, ok := value.(*bridge.Instance)
		if !ok {
			return nil, fmt.Errorf("cannot read %q: the previous value is not an object", name)
		}
		v, err := inst.Get(name)
		if err != nil {
			return nil, err
		}
		if i == 0 && typeName != "" {
			p, ok := v.(*bridge.Instance)
			if !ok {
				return nil, fmt.Errorf("%q is not an object and cannot be read as %s", name, typeName)
			}
			iface, err := lookupInterface(env.Registry(), typeName)
			if err != nil {
				return nil, err
			}
			if v, err = p.As(iface); err != nil {
				return nil, err
			}
		}
		value = v
	}
	return value, nil
}

func lookupInterface(reg *schema.Registry, name string) (*schema.Interface, error) {
	if it, ok := reg.ByUML(name); ok {
		return it, nil
	}
	if it, ok := reg.ByName(name); ok {
		return it, nil
	}
	return nil, fmt.Errorf("no catalog interface named %q", name)
}

func printValue(w io.Writer, v any) error {
	switch t := v.(type) {
	case nil:
		fmt.Fprintln(w, "(none)")
	case *bridge.Sequence:
		it := t.Iterate()
		for it.Next() {
			if err := printValue(w, it.Value()); err != nil {
				return err
			}
		}
		return it.Err()
	case *schema.Code:
		fmt.Fprintln(w, t.Name)
	default:
		fmt.Fprintln(w, t)
	}
	return nil
}
