package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// SkillsCmd lists and runs executor skills
type SkillsCmd struct {
	List SkillsListCmd `cmd:"" default:"1" help:"List installed skills"`
	Run  SkillsRunCmd  `cmd:"" help:"Run a skill"`
}

// SkillsListCmd lists installed skills
type SkillsListCmd struct{}

// Run executes the skills list command
func (c *SkillsListCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	skills, err := a.executor.Skills()
	if err != nil {
		return err
	}
	if len(skills) == 0 {
		fmt.Println("No skills installed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH")
	for _, s := range skills {
		fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Path)
	}
	return w.Flush()
}

// SkillsRunCmd runs one skill through the executor
type SkillsRunCmd struct {
	Name string `arg:"" help:"Skill name"`
	Args   string `arg:"" optional:"" help:"Arguments passed to the skill"`
	Notify bool   `help:"Tell the remote peer how the skill went"`
}

// Run executes the skills run command
func (c *SkillsRunCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, text, err := a.executor.RunSkill(ctx, c.Name, c.Args)
	if err == nil && !ok {
		err = fmt.Errorf("skill %s failed: %s", c.Name, text)
	}
	if err != nil {
		if c.Notify {
			a.relay.OnError(ctx, "skill "+c.Name, err)
		}
		return err
	}

	fmt.Println(text)
	if c.Notify {
		a.relay.OnTaskComplete(ctx, "skill "+c.Name, text)
	}
	return nil
}
