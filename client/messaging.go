package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/russross/gradewatch/types"
)

// CampaignFilter narrows ListCampaigns; zero fields are ignored.
type CampaignFilter struct {
	Status types.CampaignStatus
	Limit  int
	Offset int
}

// SendBulk starts a bulk messaging campaign. The request is validated
// locally first; invalid requests never reach the server.
func (c *Client) SendBulk(ctx context.Context, req *types.BulkSendRequest) (*types.BulkSendResponse, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	resp := new(types.BulkSendResponse)
	if err := c.postObject(ctx, "/messaging/send", req, resp); err != nil {
		return nil, err
	}
	if resp.CampaignID < 1 {
		return nil, &ProtocolError{Msg: "bulk send response carries no campaign id"}
	}
	return resp, nil
}

// GetCampaign fetches a campaign with every recipient's delivery status.
func (c *Client) GetCampaign(ctx context.Context, id int64) (*types.CampaignDetail, error) {
	detail := new(types.CampaignDetail)
	if err := c.getObject(ctx, idPath("/messaging/campaigns/%d", id), nil, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (c *Client) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*types.Campaign, error) {
	params := make(url.Values)
	if filter.Status != "" {
		params.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}
	list := []*types.Campaign{}
	if err := c.getObject(ctx, "/messaging/campaigns", params, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RetryCampaign re-admits failed recipients. The campaign returns to sending,
// so any watcher must be re-armed by the caller.
func (c *Client) RetryCampaign(ctx context.Context, id int64) (*types.RetryResponse, error) {
	resp := new(types.RetryResponse)
	if err := c.postObject(ctx, idPath("/messaging/campaigns/%d/retry", id), nil, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ListCourses(ctx context.Context) ([]*types.Course, error) {
	list := []*types.Course{}
	if err := c.getObject(ctx, "/messaging/courses", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListRecipients lists a course's students. hasWhatsapp filters when non-nil.
func (c *Client) ListRecipients(ctx context.Context, courseID int64, hasWhatsapp *bool) ([]*types.Recipient, error) {
	params := make(url.Values)
	params.Set("course_id", strconv.FormatInt(courseID, 10))
	if hasWhatsapp != nil {
		params.Set("has_whatsapp", strconv.FormatBool(*hasWhatsapp))
	}
	list := []*types.Recipient{}
	if err := c.getObject(ctx, "/messaging/recipients", params, &list); err != nil {
		return nil, err
	}
	return list, nil
}
