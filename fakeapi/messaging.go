package fakeapi

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-martini/martini"
	"github.com/google/uuid"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"
	"github.com/pkg/errors"
	"github.com/russross/meddler"

	"github.com/russross/gradewatch/types"
)

var bindBulkSend = binding.Json(types.BulkSendRequest{})

type addressee struct {
	ID             int64  `meddler:"id"`
	Name           string `meddler:"name"`
	Email          string `meddler:"email"`
	WhatsappNumber string `meddler:"whatsapp_number,zeroisnull"`
	CourseName     string `meddler:"course_name,zeroisnull"`
}

// postBulkSend handles POST /messaging/send, creating a campaign whose
// messages are delivered as the campaign is read.
func (s *Server) postBulkSend(w http.ResponseWriter, tx *sql.Tx, req types.BulkSendRequest, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	if len(req.UserIDs) == 0 {
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "user_ids must not be empty")
		return
	}
	if err := types.ValidateTemplate(req.MessageTemplate); err != nil {
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	courseName := ""
	if req.CourseID != nil {
		if err := tx.QueryRow(`SELECT name FROM courses WHERE id = ?`, *req.CourseID).Scan(&courseName); err != nil {
			s.loggedHTTPDBNotFoundError(w, "Course", err)
			return
		}
	}

	args := make([]interface{}, len(req.UserIDs))
	for i, id := range req.UserIDs {
		args[i] = id
	}
	users := []*addressee{}
	if err := meddler.QueryAll(tx, &users, `SELECT students.id, students.name, students.email, students.whatsapp_number, courses.name AS course_name `+
		`FROM students LEFT JOIN courses ON students.course_id = courses.id `+
		`WHERE students.id IN (`+placeholders(len(args))+`) ORDER BY students.id`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if len(users) == 0 {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "No users found")
		return
	}

	resp := &types.BulkSendResponse{
		TaskID:       uuid.New().String(),
		SkippedUsers: []*types.SkippedUser{},
	}
	var reachable []*addressee
	for _, u := range users {
		if u.WhatsappNumber == "" {
			resp.SkippedUsers = append(resp.SkippedUsers, &types.SkippedUser{ID: u.ID, Name: u.Name, Reason: "no whatsapp number"})
			continue
		}
		reachable = append(reachable, u)
	}
	resp.SkippedNoPhone = len(resp.SkippedUsers)
	if len(reachable) == 0 {
		s.loggedHTTPErrorf(w, http.StatusBadRequest, "None of the selected users has a WhatsApp number")
		return
	}

	campaign := &types.Campaign{
		MessageTemplate: req.MessageTemplate,
		CourseName:      courseName,
		TotalRecipients: len(reachable),
		Status:          types.CampaignSending,
		CreatedAt:       time.Now(),
	}
	if err := meddler.Insert(tx, "campaigns", campaign); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	for _, u := range reachable {
		course := courseName
		if course == "" {
			course = u.CourseName
		}
		rs := &types.RecipientStatus{
			CampaignID:      campaign.ID,
			UserID:          u.ID,
			Name:            u.Name,
			Phone:           u.WhatsappNumber,
			Status:          types.DeliveryPending,
			ResolvedMessage: types.ResolveTemplate(req.MessageTemplate, types.TemplateVars(u.Name, u.Email, course)),
		}
		if err := meddler.Insert(tx, "recipients", rs); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}

	resp.CampaignID = campaign.ID
	resp.TotalRecipients = campaign.TotalRecipients
	s.log.WithField("campaign", campaign.ID).Debugf("campaign queued for %d recipients", campaign.TotalRecipients)
	render.JSON(http.StatusAccepted, resp)
}

func (s *Server) getCampaigns(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}
	if status := types.CampaignStatus(r.FormValue("status")); status != "" {
		if !status.Valid() {
			s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "unknown status %q", status)
			return
		}
		where, args = addWhereEq(where, args, "status", status)
	}
	limit, offset := 20, 0
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		if value := r.FormValue(name); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "invalid %s %q", name, value)
				return
			}
			*dst = n
		}
	}
	args = append(args, limit, offset)

	list := []*types.Campaign{}
	if err := meddler.QueryAll(tx, &list, `SELECT * FROM campaigns`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

// getCampaign handles GET /messaging/campaigns/:campaign_id. The reply shows
// the campaign as it was; one batch of pending messages goes out afterward.
func (s *Server) getCampaign(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "campaign_id", params["campaign_id"])
	if err != nil {
		return
	}
	detail, err := loadCampaign(tx, id)
	if err != nil {
		s.loggedHTTPDBNotFoundError(w, "Campaign", errors.Cause(err))
		return
	}
	render.JSON(http.StatusOK, detail)

	if detail.Status == types.CampaignSending {
		if err := s.deliver(tx, detail); err != nil {
			s.log.WithField("campaign", id).Errorf("delivering messages: %v", err)
		}
	}
}

func loadCampaign(tx *sql.Tx, id int64) (*types.CampaignDetail, error) {
	detail := &types.CampaignDetail{Recipients: []*types.RecipientStatus{}}
	if err := meddler.Load(tx, "campaigns", &detail.Campaign, id); err != nil {
		return nil, err
	}
	if err := meddler.QueryAll(tx, &detail.Recipients, `SELECT * FROM recipients WHERE campaign_id = ? ORDER BY id`, id); err != nil {
		return nil, errors.Wrap(err, "loading recipients")
	}
	return detail, nil
}

// deliver sends up to one batch of pending messages, then recomputes the
// counters and closes the campaign once nothing is pending.
func (s *Server) deliver(tx *sql.Tx, detail *types.CampaignDetail) error {
	budget := s.opts.CampaignBatch
	sent, failed, pending := 0, 0, 0
	for _, r := range detail.Recipients {
		if r.Status == types.DeliveryPending && (s.opts.CampaignBatch == 0 || budget > 0) {
			budget--
			s.attempts[r.ID]++
			if err := s.opts.Deliver(r, s.attempts[r.ID]); err != nil {
				r.Status = types.DeliveryFailed
				r.ErrorMessage = err.Error()
			} else {
				now := time.Now().UTC()
				r.Status = types.DeliverySent
				r.SentAt = &now
				r.ErrorMessage = ""
			}
			if err := meddler.Update(tx, "recipients", r); err != nil {
				return errors.Wrap(err, "updating recipient")
			}
		}
		switch r.Status {
		case types.DeliverySent:
			sent++
		case types.DeliveryFailed:
			failed++
		default:
			pending++
		}
	}

	c := &detail.Campaign
	c.SentCount, c.FailedCount = sent, failed
	if pending == 0 {
		switch {
		case failed == 0:
			c.Status = types.CampaignCompleted
		case sent == 0:
			c.Status = types.CampaignFailed
		default:
			c.Status = types.CampaignPartialFailure
		}
		now := time.Now().UTC()
		c.CompletedAt = &now
	}
	return errors.Wrap(meddler.Update(tx, "campaigns", c), "updating campaign")
}

// postCampaignRetry puts failed recipients back in the queue.
func (s *Server) postCampaignRetry(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "campaign_id", params["campaign_id"])
	if err != nil {
		return
	}
	detail, err := loadCampaign(tx, id)
	if err != nil {
		s.loggedHTTPDBNotFoundError(w, "Campaign", errors.Cause(err))
		return
	}
	if detail.Status == types.CampaignSending {
		s.loggedHTTPErrorf(w, http.StatusConflict, "Campaign is still sending")
		return
	}

	retrying := 0
	for _, r := range detail.Recipients {
		if r.Status != types.DeliveryFailed {
			continue
		}
		r.Status = types.DeliveryPending
		r.ErrorMessage = ""
		if err := meddler.Update(tx, "recipients", r); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
		retrying++
	}
	if retrying == 0 {
		s.loggedHTTPErrorf(w, http.StatusBadRequest, "No failed recipients to retry")
		return
	}

	c := &detail.Campaign
	c.FailedCount = 0
	c.Status = types.CampaignSending
	c.CompletedAt = nil
	if err := meddler.Update(tx, "campaigns", c); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, &types.RetryResponse{Retrying: retrying, CampaignID: id})
}

func (s *Server) getCourses(w http.ResponseWriter, tx *sql.Tx, render render.Render) {
	courses := []*types.Course{}
	if err := meddler.QueryAll(tx, &courses, `SELECT * FROM courses ORDER BY name`); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, courses)
}

func (s *Server) getRecipients(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	courseID, err := s.parseID(w, "course_id", r.FormValue("course_id"))
	if err != nil {
		return
	}
	where, args := addWhereEq("", nil, "course_id", courseID)
	switch r.FormValue("has_whatsapp") {
	case "":
	case "true":
		where += " AND whatsapp_number IS NOT NULL"
	case "false":
		where += " AND whatsapp_number IS NULL"
	default:
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "has_whatsapp must be true or false")
		return
	}

	students := []*student{}
	if err := meddler.QueryAll(tx, &students, `SELECT * FROM students`+where+` ORDER BY name`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	list := make([]*types.Recipient, 0, len(students))
	for _, st := range students {
		list = append(list, &types.Recipient{
			ID:             st.ID,
			Name:           st.Name,
			Email:          st.Email,
			WhatsappNumber: st.WhatsappNumber,
			HasWhatsapp:    st.WhatsappNumber != "",
		})
	}
	render.JSON(http.StatusOK, list)
}
