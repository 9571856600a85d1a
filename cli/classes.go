package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
)

func (a *app) addClassCommands(root *cobra.Command) {
	cmdClasses := &cobra.Command{
		Use:   "classes",
		Short: "list classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.ListClasses(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no classes found")
				return nil
			}
			for _, c := range list {
				fmt.Fprintf(a.out, "%6d  %-32s invite %s", c.ID, c.Name, c.InviteCode)
				if c.Archived {
					pending.Fprint(a.out, "  archived")
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	root.AddCommand(cmdClasses)

	cmdShow := &cobra.Command{
		Use:   "show <class id>",
		Short: "show a class roster and its groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			d, err := api.GetClass(cmd.Context(), id)
			if err != nil {
				return err
			}
			heading.Fprintf(a.out, "class %d: %s\n", d.ID, d.Name)
			fmt.Fprintf(a.out, "  invite code: %s\n", d.InviteCode)
			if d.Archived {
				pending.Fprintln(a.out, "  archived")
			}
			fmt.Fprintf(a.out, "  %d student%s\n", len(d.Students), plural(len(d.Students)))
			for _, st := range d.Students {
				fmt.Fprintf(a.out, "    %6d  %-32s enrolled %s\n", st.ID, st.Email, st.EnrolledAt.Format("2006-01-02"))
			}
			for _, g := range d.Groups {
				ids := make([]string, 0, len(g.Members))
				for _, m := range g.Members {
					ids = append(ids, fmt.Sprint(m.ID))
				}
				fmt.Fprintf(a.out, "  group %d %s: %s\n", g.ID, g.Name, strings.Join(ids, ", "))
			}
			return nil
		},
	}
	cmdClasses.AddCommand(cmdShow)

	cmdCreate := &cobra.Command{
		Use:   "create <name>",
		Short: "create a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			c, err := api.CreateClass(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "class %d created, invite code %s\n", c.ID, c.InviteCode)
			return nil
		},
	}
	cmdClasses.AddCommand(cmdCreate)

	cmdEnroll := &cobra.Command{
		Use:   "enroll <class id> <invite code>",
		Short: "join a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			c, err := api.EnrollInClass(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "enrolled in %s\n", c.Name)
			return nil
		},
	}
	cmdClasses.AddCommand(cmdEnroll)

	cmdRemove := &cobra.Command{
		Use:   "remove <class id> <student id>",
		Short: "remove a student from a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			studentID, err := parseID("student id", args[1])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := api.RemoveStudent(cmd.Context(), id, studentID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "student %d removed from class %d\n", studentID, id)
			return nil
		},
	}
	cmdClasses.AddCommand(cmdRemove)

	cmdArchive := &cobra.Command{
		Use:   "archive <class id>",
		Short: "archive a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			c, err := api.ArchiveClass(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "class %d archived\n", c.ID)
			return nil
		},
	}
	cmdClasses.AddCommand(cmdArchive)

	cmdGroup := &cobra.Command{
		Use:   "group <class id> <name>",
		Short: "create a group inside a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			g, err := api.CreateGroup(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "group %d created\n", g.ID)
			return nil
		},
	}
	cmdClasses.AddCommand(cmdGroup)

	cmdMembers := &cobra.Command{
		Use:   "members <group id> <student id>...",
		Short: "add enrolled students to a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := parseID("group id", args[0])
			if err != nil {
				return err
			}
			var ids []int64
			for _, arg := range args[1:] {
				id, err := parseID("student id", arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			g, err := api.AddGroupMembers(cmd.Context(), groupID, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "group %d now has %d member%s\n", g.ID, len(g.Members), plural(len(g.Members)))
			return nil
		},
	}
	cmdClasses.AddCommand(cmdMembers)

	var filter client.StudentFilter
	cmdStudents := &cobra.Command{
		Use:   "students",
		Short: "search the student directory (administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := api.ListStudents(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, st := range resp.Items {
				phone := st.Phone
				if !st.HasWhatsapp {
					phone = "-"
				}
				fmt.Fprintf(a.out, "%-24s %-32s %s\n", st.Name, st.Email, phone)
			}
			fmt.Fprintf(a.out, "%d of %d student%s\n", len(resp.Items), resp.Total, plural(resp.Total))
			return nil
		},
	}
	cmdStudents.Flags().StringVar(&filter.Search, "search", "", "match names or emails containing this text")
	cmdStudents.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of students")
	cmdStudents.Flags().IntVar(&filter.Offset, "offset", 0, "number of students to skip")
	root.AddCommand(cmdStudents)
}
