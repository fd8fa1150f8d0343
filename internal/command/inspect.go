package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/tree"

	"github.com/joeycumines/conduct/internal/activity"
	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/config"
	"github.com/joeycumines/conduct/internal/loader"
	"github.com/joeycumines/conduct/internal/strategy"
)

// InspectCommand prints the structure of a definitions file.
type InspectCommand struct {
	*BaseCommand
	color string
}

// NewInspectCommand creates a new inspect command.
func NewInspectCommand(cfg *config.Config) *InspectCommand {
	return &InspectCommand{
		BaseCommand: NewBaseCommand(
			"inspect",
			"Show the behavior tree, reactions and actions of a definitions file",
			"inspect [-color MODE] FILE",
		),
		color: config.DefaultSchema().ResolveSection(orEmpty(cfg), "inspect", "color"),
	}
}

// SetupFlags configures the flags for the inspect command.
func (c *InspectCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.color, "color", c.color, "Color mode: auto, always, never")
}

type inspectStyles struct {
	root, id, kind, note, dim lipgloss.Style
}

func newInspectStyles(plain bool) inspectStyles {
	if plain {
		s := lipgloss.NewStyle()
		return inspectStyles{root: s, id: s, kind: s, note: s, dim: s}
	}
	return inspectStyles{
		root: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		id:   lipgloss.NewStyle().Bold(true),
		kind: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		note: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Execute renders the definitions file in args[0].
func (c *InspectCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "inspect: expected exactly one definitions file")
		return fmt.Errorf("invalid arguments")
	}
	switch c.color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color mode %q: expected auto, always or never", c.color)
	}
	prog, err := loader.LoadFile(args[0], slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}

	out := renderProgram(prog, newInspectStyles(c.color == "never"))
	if c.color == "auto" {
		// downsamples, or strips styling when stdout is not a terminal
		_, err = lipgloss.Fprint(stdout, out)
	} else {
		_, err = fmt.Fprint(stdout, out)
	}
	return err
}

func renderProgram(prog *loader.Program, st inspectStyles) string {
	kinds := make(map[behavior.ID]string, len(prog.Definitions.Behaviors))
	for _, d := range prog.Definitions.Behaviors {
		kinds[behavior.ID(d.ID)] = d.Type
	}
	label := func(b behavior.Behavior, note string) string {
		s := st.id.Render(string(b.ID())) + " " + st.kind.Render(kinds[b.ID()])
		if g, ok := b.(interface{ Gates() []strategy.Strategy }); ok {
			for _, gate := range g.Gates() {
				s += " " + st.note.Render("gate:"+gate.Name())
			}
		}
		if note != "" {
			s += " " + st.dim.Render(note)
		}
		return s
	}

	var build func(b behavior.Behavior, note string) *tree.Tree
	build = func(b behavior.Behavior, note string) *tree.Tree {
		if a, ok := b.(*activity.Activity); ok {
			n := a.Policy().String()
			if note != "" {
				n = note + " " + n
			}
			t := tree.Root(label(b, n))
			for _, child := range a.Children() {
				t.Child(build(child.Behavior, childNote(a.Policy(), child)))
			}
			return t
		}
		t := tree.Root(label(b, note))
		for _, d := range b.GetAllDelegates() {
			t.Child(build(d, ""))
		}
		return t
	}

	var b strings.Builder
	b.WriteString(st.root.Render("behaviors") + "\n")
	b.WriteString(build(prog.Main, "").String() + "\n")

	if len(prog.Reactions) > 0 {
		b.WriteString("\n" + st.root.Render("reactions") + "\n")
		t := tree.New()
		for _, e := range prog.Reactions {
			var flags []string
			if e.Resume {
				flags = append(flags, "resume")
			}
			if e.CanInterruptOther {
				flags = append(flags, "interrupts-other")
			}
			if e.CanInterruptSelf {
				flags = append(flags, "interrupts-self")
			}
			s := fmt.Sprintf("%d %s", e.Trigger, st.id.Render(e.String()))
			if e.Strategy != nil {
				s += " " + st.note.Render(e.Strategy.Name())
			}
			if len(flags) > 0 {
				s += " " + st.dim.Render(strings.Join(flags, ","))
			}
			t.Child(tree.Root(s).Child(build(e.Behavior, "")))
		}
		b.WriteString(t.String() + "\n")
	}

	if len(prog.Definitions.Actions) > 0 {
		b.WriteString("\n" + st.root.Render("actions") + "\n")
		t := tree.New()
		for _, a := range prog.Definitions.Actions {
			keys := make([]string, 0, len(a.Effects))
			for k := range a.Effects {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			effects := make([]string, len(keys))
			for i, k := range keys {
				effects[i] = fmt.Sprintf("%s=%v", k, a.Effects[k])
			}
			t.Child(fmt.Sprintf("%s %s", st.id.Render(a.Name), st.dim.Render(strings.Join(effects, " "))))
		}
		b.WriteString(t.String() + "\n")
	}

	if keys := prog.Blackboard.Keys(); len(keys) > 0 {
		b.WriteString("\n" + st.root.Render("blackboard") + "\n")
		t := tree.New()
		for _, k := range keys {
			t.Child(fmt.Sprintf("%s %s", k, st.dim.Render(fmt.Sprint(prog.Blackboard.Get(k)))))
		}
		b.WriteString(t.String() + "\n")
	}
	return b.String()
}

func childNote(policy activity.Policy, c activity.Child) string {
	name := "always"
	if c.Strategy != nil {
		name = c.Strategy.Name()
	}
	if policy == activity.Scored {
		return fmt.Sprintf("[score %.2f, %s]", c.Score, name)
	}
	return fmt.Sprintf("[p%d, %s]", c.Priority, name)
}

func orEmpty(cfg *config.Config) *config.Config {
	if cfg == nil {
		return config.NewConfig()
	}
	return cfg
}
