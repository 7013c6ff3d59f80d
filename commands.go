package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/deemkeen/agora/domain"
	"github.com/spf13/cobra"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7571f9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7571f9"))
)

// withApp opens config and database for the duration of one command
func withApp(f func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return f(cmd.Context(), a, args)
	}
}

func (a *app) person(ctx context.Context, name string) (*domain.Person, error) {
	p, err := a.store.ReadLocalPersonByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("local person %q: %w", name, err)
	}
	return p, nil
}

// community accepts a local name or the IRI of a remote community
func (a *app) community(ctx context.Context, ref string) (*domain.Community, error) {
	if !strings.HasPrefix(ref, "https://") && !strings.HasPrefix(ref, "http://") {
		c, err := a.store.ReadLocalCommunityByName(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("local community %q: %w", ref, err)
		}
		return c, nil
	}
	actor, err := a.inst.GetOrFetchActor(ctx, ref, a.inst.NewBudget())
	if err != nil {
		return nil, err
	}
	c, ok := actor.(*domain.Community)
	if !ok {
		return nil, fmt.Errorf("%s is not a community", ref)
	}
	return c, nil
}

// anyPerson accepts a local name or the IRI of a remote person
func (a *app) anyPerson(ctx context.Context, ref string) (*domain.Person, error) {
	if !strings.HasPrefix(ref, "https://") && !strings.HasPrefix(ref, "http://") {
		return a.person(ctx, ref)
	}
	actor, err := a.inst.GetOrFetchActor(ctx, ref, a.inst.NewBudget())
	if err != nil {
		return nil, err
	}
	p, ok := actor.(*domain.Person)
	if !ok {
		return nil, fmt.Errorf("%s is not a person", ref)
	}
	return p, nil
}

func personCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "person",
		Short: "Manage local persons",
	}

	var admin bool
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a local person with a fresh key pair",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			p, err := a.inst.CreateLocalPerson(ctx, args[0], admin)
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("Created " + p.ActorURI))
			return nil
		}),
	}
	create.Flags().BoolVar(&admin, "admin", false, "grant instance admin rights")
	cmd.AddCommand(create)
	return cmd
}

func communityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "community",
		Short: "Manage local communities",
	}

	var title string
	create := &cobra.Command{
		Use:   "create <creator> <name>",
		Short: "Create a local community, the creator becomes its first moderator",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			creator, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			c, err := a.inst.CreateLocalCommunity(ctx, args[1], title, creator)
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("Created " + c.ActorURI))
			return nil
		}),
	}
	create.Flags().StringVar(&title, "title", "", "display title, defaults to the name")
	cmd.AddCommand(create)
	return cmd
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <author> <community> <title> <body>",
		Short: "Publish a post to a local or remote community",
		Args:  cobra.ExactArgs(4),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			author, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			community, err := a.community(ctx, args[1])
			if err != nil {
				return err
			}
			post, err := a.inst.CreateLocalPost(ctx, author, community, args[2], args[3])
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("Posted " + post.ObjectURI))
			return nil
		}),
	}
}

func commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <author> <parent-iri> <content>",
		Short: "Reply to a post or comment",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			author, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			comment, err := a.inst.CreateLocalComment(ctx, author, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("Commented " + comment.ObjectURI))
			return nil
		}),
	}
}

func messageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <author> <recipient> <content>",
		Short: "Send a private message to a local or remote person",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			author, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			recipient, err := a.anyPerson(ctx, args[1])
			if err != nil {
				return err
			}
			pm, err := a.inst.CreateLocalPrivateMessage(ctx, author, recipient, args[2])
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("Sent " + pm.ObjectURI))
			return nil
		}),
	}
}

func modCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mod",
		Short: "Appoint or remove community moderators",
	}
	for _, add := range []bool{true, false} {
		use, short := "add", "Appoint a moderator"
		if !add {
			use, short = "remove", "Remove a moderator"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use + " <actor> <community> <person>",
			Short: short,
			Args:  cobra.ExactArgs(3),
			RunE: withApp(func(ctx context.Context, a *app, args []string) error {
				actor, err := a.person(ctx, args[0])
				if err != nil {
					return err
				}
				community, err := a.community(ctx, args[1])
				if err != nil {
					return err
				}
				target, err := a.anyPerson(ctx, args[2])
				if err != nil {
					return err
				}
				return a.inst.SetModerator(ctx, actor, community, target, add)
			}),
		})
	}
	return cmd
}

func deleteCmd() *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "delete <actor> <object-iri>",
		Short: "Delete your own post or comment",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			actor, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			return a.inst.DeleteObject(ctx, actor, args[1], "", !restore)
		}),
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "undo an earlier deletion")
	return cmd
}

func removeCmd() *cobra.Command {
	var (
		restore bool
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "remove <moderator> <object-iri>",
		Short: "Remove a community, post or comment as moderator",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			actor, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			return a.inst.DeleteObject(ctx, actor, args[1], reason, !restore)
		}),
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "undo an earlier removal")
	cmd.Flags().StringVar(&reason, "reason", "removed by moderator", "reason written to the moderation log")
	return cmd
}

func followCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "follow <person> <community>",
		Short: "Subscribe a local person to a community",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			person, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			community, err := a.community(ctx, args[1])
			if err != nil {
				return err
			}
			if undo {
				return a.inst.SendUndoFollowCommunity(ctx, person, community)
			}
			return a.inst.SendFollowCommunity(ctx, person, community)
		}),
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "unfollow instead")
	return cmd
}

func banCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <moderator> <community> <person>",
		Short: "Ban a person from a community",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			actor, err := a.person(ctx, args[0])
			if err != nil {
				return err
			}
			community, err := a.community(ctx, args[1])
			if err != nil {
				return err
			}
			target, err := a.anyPerson(ctx, args[2])
			if err != nil {
				return err
			}
			return a.inst.BanPerson(ctx, actor, community, target)
		}),
	}
}

func ledgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the most recent entries of the activity ledger",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			activities, err := a.store.ReadRecentActivities(ctx, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(activities))
			for _, act := range activities {
				origin := "remote"
				if act.Local {
					origin = "local"
				}
				if act.Sensitive {
					origin += " (sensitive)"
				}
				rows = append(rows, []string{act.CreatedAt.Format("2006-01-02 15:04:05"), origin, act.ActivityURI})
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("Activity ledger (%d)", len(rows))))
			fmt.Println(renderTable([]string{"Received", "Origin", "Activity"}, rows))
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func modlogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "modlog <community>",
		Short: "Show the moderation log of a community",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			community, err := a.community(ctx, args[0])
			if err != nil {
				return err
			}
			entries, err := a.store.ReadModLog(ctx, community.Id, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				moderator := e.ModeratorId.String()
				if p, err := a.store.ReadPersonById(ctx, e.ModeratorId); err == nil {
					moderator = p.ActorURI
				}
				action := string(e.Action)
				if !e.Removed {
					action = "undo " + action
				}
				rows = append(rows, []string{e.CreatedAt.Format("2006-01-02 15:04"), moderator, action, e.TargetURI, e.Reason})
			}
			fmt.Println(titleStyle.Render("Moderation log of " + community.ActorURI))
			if len(rows) == 0 {
				fmt.Println(mutedStyle.Render("No entries"))
				return nil
			}
			fmt.Println(renderTable([]string{"When", "Moderator", "Action", "Target", "Reason"}, rows))
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	return cmd
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}
