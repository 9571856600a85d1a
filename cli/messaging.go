package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
	"github.com/russross/gradewatch/types"
)

func (a *app) addMessagingCommands(root *cobra.Command) {
	var users []int64
	var courseID int64
	var message string
	var noWait bool
	cmdSend := &cobra.Command{
		Use:   "send",
		Short: "send a WhatsApp message to many students",
		Long: fmt.Sprintf("Give the students with --user (repeatable) or a whole course with --course.\n"+
			"The message may use the variables %s.\n\n"+
			"   Example: '%s send --course 3 --message \"Oi {primeiro_nome}, a nota saiu!\"'\n\n"+
			"Delivery runs on the server; progress is checked every few seconds\n"+
			"until every message is sent or has failed.",
			"{nome}, {primeiro_nome}, {email}, and {turma}", root.Name()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			req := &types.BulkSendRequest{UserIDs: users, MessageTemplate: message}
			if courseID > 0 {
				req.CourseID = &courseID
			}
			if len(users) == 0 && courseID > 0 {
				yes := true
				recipients, err := api.ListRecipients(cmd.Context(), courseID, &yes)
				if err != nil {
					return err
				}
				for _, r := range recipients {
					req.UserIDs = append(req.UserIDs, r.ID)
				}
				if len(req.UserIDs) == 0 {
					return errors.Errorf("course %d has no students with a WhatsApp number", courseID)
				}
			}

			resp, err := api.SendBulk(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "campaign %d started: %d recipient%s\n", resp.CampaignID, resp.TotalRecipients, plural(resp.TotalRecipients))
			if resp.SkippedNoPhone > 0 {
				pending.Fprintf(a.out, "skipped %d student%s without a WhatsApp number:\n", resp.SkippedNoPhone, plural(resp.SkippedNoPhone))
				for _, u := range resp.SkippedUsers {
					fmt.Fprintf(a.out, "  %d %s (%s)\n", u.ID, u.Name, u.Reason)
				}
			}
			if noWait {
				fmt.Fprintf(a.out, "Check progress: %s campaign %d --watch\n", root.Name(), resp.CampaignID)
				return nil
			}
			return a.watchCampaign(cmd.Context(), resp.CampaignID)
		},
	}
	cmdSend.Flags().Int64SliceVar(&users, "user", nil, "student id to message (repeatable)")
	cmdSend.Flags().Int64Var(&courseID, "course", 0, "course id, used for {turma} and to select all students")
	cmdSend.Flags().StringVar(&message, "message", "", "message template")
	cmdSend.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for delivery to finish")
	cmdSend.MarkFlagRequired("message")
	root.AddCommand(cmdSend)

	var watch bool
	cmdCampaign := &cobra.Command{
		Use:   "campaign <campaign id>",
		Short: "show a campaign and the delivery status of each recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("campaign id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			detail, err := api.GetCampaign(cmd.Context(), id)
			if err != nil {
				return err
			}
			if watch && detail.Status == types.CampaignSending {
				return a.watchCampaign(cmd.Context(), id)
			}
			printCampaignDetail(a.out, detail)
			return nil
		},
	}
	cmdCampaign.Flags().BoolVarP(&watch, "watch", "w", false, "keep watching until delivery finishes")
	root.AddCommand(cmdCampaign)

	var filter client.CampaignFilter
	var status string
	cmdCampaigns := &cobra.Command{
		Use:   "campaigns",
		Short: "list recent campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = types.CampaignStatus(status)
			if status != "" && !filter.Status.Valid() {
				return errors.Errorf("unknown campaign status %q", status)
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.ListCampaigns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no campaigns found")
				return nil
			}
			for _, c := range list {
				campaignColor(c.Status).Fprintf(a.out, "%s  %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04"), campaignLine(c))
			}
			return nil
		},
	}
	cmdCampaigns.Flags().StringVar(&status, "status", "", "only campaigns in this status (sending, completed, partial_failure, failed)")
	cmdCampaigns.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of campaigns")
	cmdCampaigns.Flags().IntVar(&filter.Offset, "offset", 0, "number of campaigns to skip")
	root.AddCommand(cmdCampaigns)

	var retryNoWait bool
	cmdRetry := &cobra.Command{
		Use:   "retry <campaign id>",
		Short: "resend the messages that failed in a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("campaign id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := api.RetryCampaign(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "retrying %d recipient%s in campaign %d\n", resp.Retrying, plural(resp.Retrying), resp.CampaignID)
			if retryNoWait {
				return nil
			}
			return a.watchCampaign(cmd.Context(), id)
		},
	}
	cmdRetry.Flags().BoolVar(&retryNoWait, "no-wait", false, "do not wait for delivery to finish")
	root.AddCommand(cmdRetry)

	cmdCourses := &cobra.Command{
		Use:   "courses",
		Short: "list courses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			courses, err := api.ListCourses(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range courses {
				fmt.Fprintf(a.out, "%6d  %s\n", c.ID, c.Name)
			}
			return nil
		},
	}
	root.AddCommand(cmdCourses)

	var whatsapp bool
	cmdRecipients := &cobra.Command{
		Use:   "recipients <course id>",
		Short: "list the students of a course and their WhatsApp numbers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("course id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			var hasWhatsapp *bool
			if cmd.Flags().Changed("whatsapp") {
				hasWhatsapp = &whatsapp
			}
			list, err := api.ListRecipients(cmd.Context(), id, hasWhatsapp)
			if err != nil {
				return err
			}
			for _, r := range list {
				phone := r.WhatsappNumber
				if !r.HasWhatsapp {
					phone = "(no whatsapp)"
				}
				fmt.Fprintf(a.out, "%6d  %-24s %-28s %s\n", r.ID, r.Name, r.Email, phone)
			}
			return nil
		},
	}
	cmdRecipients.Flags().BoolVar(&whatsapp, "whatsapp", false, "only students with (true) or without (false) a WhatsApp number")
	root.AddCommand(cmdRecipients)
}

// watchCampaign polls until delivery stops and prints every recipient.
func (a *app) watchCampaign(ctx context.Context, id int64) error {
	p := &progress{out: a.out}
	w, err := a.api.CampaignWatcher(client.WatchOptions[*types.CampaignDetail]{
		Interval: a.campaignInterval(),
		Update: func(d *types.CampaignDetail) {
			p.print(campaignLine(&d.Campaign), campaignColor(d.Status))
		},
		Error: func(err error) {
			if !client.IsRejection(err) {
				a.log.Debugf("campaign check failed, will retry: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx, id); err != nil {
		return err
	}
	detail, err := w.Results(ctx)
	if err != nil {
		return errors.Wrapf(err, "watching campaign %d", id)
	}
	printCampaignDetail(a.out, detail)
	if detail.Retryable() {
		fmt.Fprintf(a.out, "Resend failed messages: grade retry %d\n", id)
	}
	return nil
}
